package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sheets":
		if strings.TrimSpace(c.Store.CredentialsFile) == "" {
			return errors.New("store.credentials_file is required for the sheets backend (or set GUIDESYNC_CREDENTIALS)")
		}
	case "xlsx", "memory":
	default:
		return fmt.Errorf("store.backend %q: want sheets, xlsx or memory", c.Store.Backend)
	}
	if c.Store.RequestsPerSecond < 0 {
		return errors.New("store.requests_per_second must not be negative")
	}

	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelayDuration <= 0 {
		return errors.New("retry.base_delay must be positive")
	}

	switch c.Sync.OnGuideFailure {
	case "abort", "skip":
	default:
		return fmt.Errorf("sync.on_guide_failure %q: want abort or skip", c.Sync.OnGuideFailure)
	}

	switch c.Snapshot.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("snapshot.backend %q: want json or sqlite", c.Snapshot.Backend)
	}
	if strings.TrimSpace(c.Snapshot.Dir) == "" {
		return errors.New("snapshot.dir must be set")
	}

	if len(c.Markets) == 0 {
		return errors.New("at least one [[markets]] entry is required")
	}
	seen := make(map[string]bool, len(c.Markets))
	for i, m := range c.Markets {
		if err := m.validate(); err != nil {
			return fmt.Errorf("markets[%d]: %w", i, err)
		}
		key := strings.ToLower(m.Key)
		if seen[key] {
			return fmt.Errorf("markets[%d]: duplicate key %q", i, m.Key)
		}
		seen[key] = true
	}
	return nil
}

func (m Market) validate() error {
	if m.Key == "" {
		return errors.New("key must be set")
	}
	if strings.TrimSpace(m.Spreadsheet) == "" {
		return fmt.Errorf("%s: spreadsheet must be set", m.Key)
	}
	switch m.Source {
	case "sheet", "live":
	default:
		return fmt.Errorf("%s: source %q: want sheet or live", m.Key, m.Source)
	}
	if m.DirectoryTab == m.DatabaseTab {
		return fmt.Errorf("%s: directory_tab and database_tab must differ", m.Key)
	}
	if m.Timezone != "" {
		if _, err := time.LoadLocation(m.Timezone); err != nil {
			return fmt.Errorf("%s: timezone: %w", m.Key, err)
		}
	}
	return nil
}
