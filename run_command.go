package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"guide-aggregator/pipeline"
	"guide-aggregator/services"
	"guide-aggregator/storage"
)

func newRunCommand(app *appContext) *cobra.Command {
	var markets []string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync every configured market (or the ones named with --market)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMarkets(ctx, app, markets, dryRun)
		},
	}
	cmd.Flags().StringSliceVarP(&markets, "market", "m", nil, "Market key to sync (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Publish into memory only; no snapshot, write-back or mirrors")
	return cmd
}

func runMarkets(ctx context.Context, app *appContext, keys []string, dryRun bool) error {
	cfg, logger := app.cfg, app.logger

	selected, err := cfg.SelectMarkets(keys)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Snapshot.Dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another guidesync run is already in progress")
	}
	defer lock.Unlock()

	logger.Info("=== Guide sync starting ===")
	logger.Info("Config: markets: %d | store: %s | snapshots: %s | workers: %d | on failure: %s",
		len(selected), cfg.Store.Backend, cfg.Snapshot.Backend, cfg.Sync.Workers, cfg.Sync.OnGuideFailure)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	snapshots, err := openSnapshots(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer snapshots.Close()

	var mirrors []storage.ListingWriter
	if !dryRun {
		mirrors = openMirrors(ctx, cfg, logger)
	}
	defer func() {
		for _, m := range mirrors {
			m.Close()
		}
	}()

	src := &sources{store: store, cfg: cfg, logger: logger}
	defer src.Close()

	runner := pipeline.NewRunner(store, snapshots, pipeline.Options{
		Retry:       retryPolicy(cfg, logger),
		Concurrency: services.Concurrency{Workers: cfg.Sync.Workers, FailFast: cfg.FailFast()},
		DryRun:      dryRun,
	}, logger, mirrors...)
	reports := services.NewReportService(logger)

	var failed []string
	for i, m := range selected {
		if i > 0 && cfg.Sync.MarketDelayDuration > 0 {
			logger.Info("Waiting %v before the next market...", cfg.Sync.MarketDelayDuration)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.Sync.MarketDelayDuration):
			}
		}

		logger.Info("--- Market %s ---", m.Key)
		res, err := runner.Run(ctx, pipelineMarket(m, cfg, src.forMarket(m)))
		if res != nil && res.Report != nil {
			reports.Print(os.Stdout, res.Report)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("Market %s failed: %v", m.Key, err)
			failed = append(failed, m.Key)
			continue
		}
		logger.Info("Market %s finished %s in %v: %d changed, %d unchanged, %d listings",
			m.Key, res.State, res.Duration.Round(time.Millisecond), len(res.Changed), len(res.Unchanged), res.Records)
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d markets failed: %v", len(failed), len(selected), failed)
	}
	logger.Info("=== Guide sync done ===")
	return nil
}
