package main

import (
	"context"
	"fmt"
	"os"

	"guide-aggregator/config"
	"guide-aggregator/pipeline"
	"guide-aggregator/scraper/live"
	"guide-aggregator/scraper/sheet"
	"guide-aggregator/services"
	"guide-aggregator/storage"
	"guide-aggregator/utils"
)

// openStore builds the configured document store behind the shared rate limiter.
func openStore(ctx context.Context, cfg *config.Config) (storage.DocumentStore, error) {
	var inner storage.DocumentStore
	switch cfg.Store.Backend {
	case "sheets":
		s, err := storage.NewSheetsStore(ctx, cfg.Store.CredentialsFile)
		if err != nil {
			return nil, err
		}
		inner = s
	case "xlsx":
		inner = storage.NewWorkbookStore(cfg.Store.WorkbookDir)
	case "memory":
		inner = storage.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	return storage.NewThrottled(inner, cfg.Store.RequestsPerSecond, cfg.Store.Burst), nil
}

func openSnapshots(ctx context.Context, cfg *config.Config) (storage.SnapshotStore, error) {
	if err := os.MkdirAll(cfg.Snapshot.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	if cfg.Snapshot.Backend == "sqlite" {
		s, err := storage.OpenSQLiteSnapshotStore(ctx, cfg.Snapshot.Dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := storage.NewJSONSnapshotStore(cfg.Snapshot.Dir)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// openMirrors connects the configured export destinations. A mirror that
// cannot be opened is logged and left out.
func openMirrors(ctx context.Context, cfg *config.Config, logger *utils.Logger) []storage.ListingWriter {
	var mirrors []storage.ListingWriter
	if cfg.Export.CSVDir != "" {
		w, err := storage.NewCSVWriter(cfg.Export.CSVDir)
		if err != nil {
			logger.Warn("CSV export disabled: %v", err)
		} else {
			mirrors = append(mirrors, w)
		}
	}
	if cfg.Export.PostgresDSN != "" {
		w, err := storage.NewPostgresWriter(ctx, cfg.Export.PostgresDSN)
		if err != nil {
			logger.Warn("PostgreSQL mirror disabled: %v", err)
		} else {
			mirrors = append(mirrors, w)
		}
	}
	return mirrors
}

// sources hands out one guide source per market run so cached reads never
// leak between runs.
type sources struct {
	store   storage.DocumentStore
	cfg     *config.Config
	logger  *utils.Logger
	fetcher live.Fetcher
	browser *live.BrowserFetcher
}

func (s *sources) forMarket(m config.Market) services.Source {
	if m.Source == "live" {
		return live.NewSource(s.liveFetcher(), s.logger)
	}
	return sheet.New(s.store, sheet.Options{
		ListingsTab:      m.ListingsTab,
		NavTab:           m.NavTab,
		SettingsTab:      m.SettingsTab,
		LiveLinkTemplate: m.LiveLinkTemplate,
	}, s.logger)
}

func (s *sources) liveFetcher() live.Fetcher {
	if s.fetcher != nil {
		return s.fetcher
	}
	timeout := s.cfg.Live.TimeoutDuration
	if s.cfg.Live.Render {
		s.browser = live.NewBrowserFetcher(s.cfg.Live.ChromeBin, s.cfg.Live.UserAgent, timeout, s.logger)
		s.fetcher = s.browser
	} else {
		s.fetcher = live.NewHTTPFetcher(timeout, s.cfg.Live.UserAgent)
	}
	return s.fetcher
}

func (s *sources) Close() error {
	if s.browser != nil {
		return s.browser.Close()
	}
	return nil
}

func pipelineMarket(m config.Market, cfg *config.Config, src services.Source) pipeline.Market {
	return pipeline.Market{
		Key:          m.Key,
		Spreadsheet:  m.Spreadsheet,
		DirectoryTab: m.DirectoryTab,
		DatabaseTab:  m.DatabaseTab,
		Columns: pipeline.DirectoryColumns{
			Name:     m.NameColumn,
			URL:      m.URLColumn,
			Modified: m.ModifiedColumn,
		},
		Source: src,
		Prune:  cfg.Prune(m),
	}
}

func retryPolicy(cfg *config.Config, logger *utils.Logger) *utils.RetryPolicy {
	return &utils.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelayDuration,
		MaxDelay:    cfg.Retry.MaxDelayDuration,
		Logger:      logger,
	}
}
