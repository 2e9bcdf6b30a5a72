package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// ErrUnknownMarket is returned when a requested market key is not configured.
var ErrUnknownMarket = errors.New("unknown market")

// Store selects and tunes the document store guides and markets live in.
type Store struct {
	Backend           string  `toml:"backend"` // sheets | xlsx | memory
	CredentialsFile   string  `toml:"credentials_file"`
	WorkbookDir       string  `toml:"workbook_dir"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// Retry configures the back-off applied to every remote call.
type Retry struct {
	MaxAttempts int    `toml:"max_attempts"`
	BaseDelay   string `toml:"base_delay"`
	MaxDelay    string `toml:"max_delay"`

	BaseDelayDuration time.Duration `toml:"-"`
	MaxDelayDuration  time.Duration `toml:"-"`
}

// Sync holds the run-wide scheduling policy.
type Sync struct {
	Workers        int    `toml:"workers"`
	MarketDelay    string `toml:"market_delay"`
	OnGuideFailure string `toml:"on_guide_failure"` // abort | skip
	PruneRetired   bool   `toml:"prune_retired"`

	MarketDelayDuration time.Duration `toml:"-"`
}

// Snapshot selects where baselines and published aggregates are kept.
type Snapshot struct {
	Backend string `toml:"backend"` // json | sqlite
	Dir     string `toml:"dir"`
}

// Live configures fetching of published guide pages.
type Live struct {
	UserAgent string `toml:"user_agent"`
	Timeout   string `toml:"timeout"`
	Render    bool   `toml:"render"`
	ChromeBin string `toml:"chrome_bin"`

	TimeoutDuration time.Duration `toml:"-"`
}

// Export configures the optional aggregate mirrors.
type Export struct {
	CSVDir      string `toml:"csv_dir"`
	PostgresDSN string `toml:"postgres_dsn"`
}

// Logging configures log output.
type Logging struct {
	Level string `toml:"level"`
}

// Market is one regional edition: a directory of guides feeding one
// database tab.
type Market struct {
	Key              string `toml:"key"`
	Spreadsheet      string `toml:"spreadsheet"`
	DirectoryTab     string `toml:"directory_tab"`
	DatabaseTab      string `toml:"database_tab"`
	Timezone         string `toml:"timezone"`
	Source           string `toml:"source"` // sheet | live
	LiveLinkTemplate string `toml:"live_link_template"`
	ListingsTab      string `toml:"listings_tab"`
	NavTab           string `toml:"nav_tab"`
	SettingsTab      string `toml:"settings_tab"`
	NameColumn       string `toml:"name_column"`
	URLColumn        string `toml:"url_column"`
	ModifiedColumn   string `toml:"modified_column"`
	PruneRetired     *bool  `toml:"prune_retired"`
}

// Config holds all application configuration.
type Config struct {
	Store    Store    `toml:"store"`
	Retry    Retry    `toml:"retry"`
	Sync     Sync     `toml:"sync"`
	Snapshot Snapshot `toml:"snapshot"`
	Live     Live     `toml:"live"`
	Export   Export   `toml:"export"`
	Logging  Logging  `toml:"logging"`
	Markets  []Market `toml:"markets"`
}

// Default returns a Config populated with the shipped defaults and no markets.
func Default() Config {
	return Config{
		Store: Store{
			Backend:           "sheets",
			WorkbookDir:       ".",
			RequestsPerSecond: 1,
			Burst:             1,
		},
		Retry: Retry{
			MaxAttempts: 10,
			BaseDelay:   "1s",
			MaxDelay:    "0s",
		},
		Sync: Sync{
			Workers:        1,
			MarketDelay:    "10s",
			OnGuideFailure: "abort",
			PruneRetired:   true,
		},
		Snapshot: Snapshot{
			Backend: "json",
			Dir:     "./data/snapshots",
		},
		Live: Live{
			UserAgent: "guidesync/1.0",
			Timeout:   "30s",
		},
		Logging: Logging{Level: "info"},
	}
}

// Load reads the .env file, parses the TOML file at path (when it exists)
// over the defaults, applies environment overrides, then normalizes and
// validates the result. It reports whether the file existed.
func Load(path string) (*Config, bool, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	cfg := Default()
	exists := false
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, false, fmt.Errorf("read config: %w", err)
		default:
			exists = true
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return nil, false, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.normalize(); err != nil {
		return nil, exists, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, exists, err
	}
	return &cfg, exists, nil
}

func (c *Config) applyEnv() {
	c.Store.CredentialsFile = getEnv("GUIDESYNC_CREDENTIALS", c.Store.CredentialsFile)
	c.Export.PostgresDSN = getEnv("GUIDESYNC_POSTGRES_DSN", c.Export.PostgresDSN)
	c.Snapshot.Dir = getEnv("GUIDESYNC_SNAPSHOT_DIR", c.Snapshot.Dir)
	c.Logging.Level = getEnv("GUIDESYNC_LOG_LEVEL", c.Logging.Level)
	c.Live.ChromeBin = getEnv("CHROME_BIN", c.Live.ChromeBin)
	c.Sync.Workers = getEnvInt("GUIDESYNC_WORKERS", c.Sync.Workers)
}

func (c *Config) normalize() error {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.Snapshot.Backend = strings.ToLower(strings.TrimSpace(c.Snapshot.Backend))
	c.Sync.OnGuideFailure = strings.ToLower(strings.TrimSpace(c.Sync.OnGuideFailure))
	if c.Sync.Workers < 1 {
		c.Sync.Workers = 1
	}

	var err error
	if c.Retry.BaseDelayDuration, err = parseDuration("retry.base_delay", c.Retry.BaseDelay); err != nil {
		return err
	}
	if c.Retry.MaxDelayDuration, err = parseDuration("retry.max_delay", c.Retry.MaxDelay); err != nil {
		return err
	}
	if c.Sync.MarketDelayDuration, err = parseDuration("sync.market_delay", c.Sync.MarketDelay); err != nil {
		return err
	}
	if c.Live.TimeoutDuration, err = parseDuration("live.timeout", c.Live.Timeout); err != nil {
		return err
	}

	for i := range c.Markets {
		m := &c.Markets[i]
		m.Key = strings.TrimSpace(m.Key)
		m.Source = strings.ToLower(strings.TrimSpace(m.Source))
		if m.Source == "" {
			m.Source = "sheet"
		}
		if m.DirectoryTab == "" {
			m.DirectoryTab = "directory"
		}
		if m.DatabaseTab == "" {
			m.DatabaseTab = "database"
		}
		if m.NameColumn == "" {
			m.NameColumn = "Guide name"
		}
		if m.URLColumn == "" {
			m.URLColumn = "URL"
		}
		if m.ModifiedColumn == "" {
			m.ModifiedColumn = "Last modified"
		}
	}
	return nil
}

// Market returns the market with the given key.
func (c *Config) Market(key string) (Market, error) {
	for _, m := range c.Markets {
		if strings.EqualFold(m.Key, key) {
			return m, nil
		}
	}
	return Market{}, fmt.Errorf("%w: %q", ErrUnknownMarket, key)
}

// SelectMarkets returns the markets named by keys in config order, or all of
// them when keys is empty.
func (c *Config) SelectMarkets(keys []string) ([]Market, error) {
	if len(keys) == 0 {
		return c.Markets, nil
	}
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		if _, err := c.Market(k); err != nil {
			return nil, err
		}
		want[strings.ToLower(strings.TrimSpace(k))] = true
	}
	var out []Market
	for _, m := range c.Markets {
		if want[strings.ToLower(m.Key)] {
			out = append(out, m)
		}
	}
	return out, nil
}

// Prune reports whether retired guides are pruned for m.
func (c *Config) Prune(m Market) bool {
	if m.PruneRetired != nil {
		return *m.PruneRetired
	}
	return c.Sync.PruneRetired
}

// FailFast reports whether one failed guide aborts its market.
func (c *Config) FailFast() bool {
	return c.Sync.OnGuideFailure != "skip"
}

// LockPath is the run lock file kept next to the snapshots.
func (c *Config) LockPath() string {
	return filepath.Join(c.Snapshot.Dir, ".guidesync.lock")
}

// CreateSample writes the commented sample configuration to path.
func CreateSample(path string) error {
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

func parseDuration(field, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}
