package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"guide-aggregator/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guidesync.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimal = `
[store]
backend = "memory"

[[markets]]
key = "sf"
spreadsheet = "sf.xlsx"

[[markets]]
key = "houston"
spreadsheet = "houston.xlsx"
source = "LIVE"
prune_retired = false
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, exists, err := config.Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected file to exist")
	}
	if cfg.Retry.MaxAttempts != 10 || cfg.Retry.BaseDelayDuration != time.Second || cfg.Retry.MaxDelayDuration != 0 {
		t.Errorf("retry = %+v", cfg.Retry)
	}
	if cfg.Sync.MarketDelayDuration != 10*time.Second || cfg.Sync.Workers != 1 || !cfg.FailFast() {
		t.Errorf("sync = %+v", cfg.Sync)
	}

	sf := cfg.Markets[0]
	if sf.Source != "sheet" || sf.DirectoryTab != "directory" || sf.DatabaseTab != "database" {
		t.Errorf("sf defaults = %+v", sf)
	}
	if sf.NameColumn != "Guide name" || sf.URLColumn != "URL" || sf.ModifiedColumn != "Last modified" {
		t.Errorf("sf columns = %+v", sf)
	}
	if !cfg.Prune(sf) {
		t.Error("pruning defaults to on")
	}

	houston := cfg.Markets[1]
	if houston.Source != "live" || cfg.Prune(houston) {
		t.Errorf("houston = %+v prune=%v", houston, cfg.Prune(houston))
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GUIDESYNC_SNAPSHOT_DIR", "/tmp/snaps")
	t.Setenv("GUIDESYNC_LOG_LEVEL", "debug")
	t.Setenv("GUIDESYNC_POSTGRES_DSN", "postgres://localhost/guides")

	cfg, _, err := config.Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Snapshot.Dir != "/tmp/snaps" || cfg.Logging.Level != "debug" || cfg.Export.PostgresDSN == "" {
		t.Errorf("env not applied: %+v %+v %+v", cfg.Snapshot, cfg.Logging, cfg.Export)
	}
	if cfg.LockPath() != filepath.Join("/tmp/snaps", ".guidesync.lock") {
		t.Errorf("lock path = %s", cfg.LockPath())
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no markets", "[store]\nbackend = \"memory\"\n", "markets"},
		{"sheets without credentials", "[[markets]]\nkey = \"sf\"\nspreadsheet = \"x\"\n", "credentials_file"},
		{"bad failure policy", minimal + "\n[sync]\non_guide_failure = \"retry\"\n", "on_guide_failure"},
		{"bad duration", minimal + "\n[retry]\nbase_delay = \"soon\"\n", "retry.base_delay"},
		{"duplicate market", minimal + "\n[[markets]]\nkey = \"SF\"\nspreadsheet = \"y\"\n", "duplicate"},
		{"same tabs", "[store]\nbackend = \"memory\"\n[[markets]]\nkey = \"sf\"\nspreadsheet = \"x\"\ndirectory_tab = \"db\"\ndatabase_tab = \"db\"\n", "must differ"},
		{"bad timezone", "[store]\nbackend = \"memory\"\n[[markets]]\nkey = \"sf\"\nspreadsheet = \"x\"\ntimezone = \"Mars/Olympus\"\n", "timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GUIDESYNC_CREDENTIALS", "")
			_, _, err := config.Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestSelectMarkets(t *testing.T) {
	cfg, _, err := config.Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatal(err)
	}
	all, _ := cfg.SelectMarkets(nil)
	if len(all) != 2 {
		t.Errorf("all = %d", len(all))
	}
	// config order, not argument order
	got, err := cfg.SelectMarkets([]string{"HOUSTON", "sf"})
	if err != nil || len(got) != 2 || got[0].Key != "sf" {
		t.Errorf("got %+v, %v", got, err)
	}
	if _, err := cfg.SelectMarkets([]string{"la"}); !errors.Is(err, config.ErrUnknownMarket) {
		t.Errorf("err = %v, want ErrUnknownMarket", err)
	}
}

func TestSampleConfigLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GUIDESYNC_CREDENTIALS", "creds.json")
	cfg, exists, err := config.Load(path)
	if err != nil || !exists {
		t.Fatalf("sample config should load: %v", err)
	}
	if len(cfg.Markets) != 1 || cfg.Markets[0].Key != "sf" {
		t.Errorf("markets = %+v", cfg.Markets)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	_, exists, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if exists {
		t.Error("file should not exist")
	}
	// defaults carry no markets
	if err == nil {
		t.Error("expected validation error")
	}
}
