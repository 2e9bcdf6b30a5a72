package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"guide-aggregator/models"
	"guide-aggregator/storage"
)

func writeWorkbooks(t *testing.T, dir string) {
	t.Helper()
	market := map[string][][]string{
		"directory": {
			{"Guide name", "URL", "Last modified"},
			{"Best tacos", "tacos.xlsx"},
		},
		"database": {{"stale"}},
	}
	if err := storage.CreateWorkbook(filepath.Join(dir, "market.xlsx"), market, []string{"directory", "database"}); err != nil {
		t.Fatal(err)
	}
	guide := map[string][][]string{
		"listings": {
			{"Listing_Id", "Display_Name", "Location", "Text", "Labels"},
			{"1", "La Taqueria", "2889 Mission St.", "<b>Carnitas</b>", "Takeout"},
			{"2", "El Farolito", "2779 Mission St.", "", ""},
		},
		"nav":            {{"Listing_Id", "Lat", "Lng"}, {"1", "37.75", "-122.41"}},
		"story_settings": {{"Slug", "Year", "LastModDate_C2P"}, {"best-tacos", "2024", "2024-05-01"}},
	}
	if err := storage.CreateWorkbook(filepath.Join(dir, "tacos.xlsx"), guide, []string{"listings", "nav", "story_settings"}); err != nil {
		t.Fatal(err)
	}
}

func writeCLIConfig(t *testing.T, dir string) string {
	t.Helper()
	body := `
[store]
backend = "xlsx"
workbook_dir = "` + dir + `"
requests_per_second = 0

[sync]
market_delay = "0s"

[snapshot]
backend = "sqlite"
dir = "` + filepath.Join(dir, "snapshots") + `"

[export]
csv_dir = "` + filepath.Join(dir, "export") + `"

[[markets]]
key = "sf"
spreadsheet = "market.xlsx"
timezone = "America/Los_Angeles"
`
	path := filepath.Join(dir, "guidesync.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunAndStatusOnWorkbooks(t *testing.T) {
	dir := t.TempDir()
	writeWorkbooks(t, dir)
	cfgPath := writeCLIConfig(t, dir)

	if _, err := execute(t, "-c", cfgPath, "--log-level", "error", "run"); err != nil {
		t.Fatalf("run: %v", err)
	}

	doc, err := storage.NewWorkbookStore(dir).Open(context.Background(), "market.xlsx")
	if err != nil {
		t.Fatal(err)
	}
	rows, err := doc.Rows(context.Background(), "database")
	if err != nil {
		t.Fatal(err)
	}
	recs := models.RecordsFromTable(rows)
	if len(recs) != 2 || recs[0].DisplayName != "El Farolito" || recs[1].Lat != "37.75" {
		t.Fatalf("database = %+v", recs)
	}
	if recs[1].LiveLink != "https://www.sfchronicle.com/2024/best-tacos" || recs[1].PlainText != "Carnitas" {
		t.Errorf("record = %+v", recs[1])
	}
	dirRows, _ := doc.Rows(context.Background(), "directory")
	if len(dirRows[1]) < 3 || dirRows[1][2] != "2024-05-01" {
		t.Errorf("directory = %v", dirRows)
	}
	if _, err := os.Stat(filepath.Join(dir, "export", "sf.csv")); err != nil {
		t.Errorf("csv export missing: %v", err)
	}

	out, err := execute(t, "-c", cfgPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"sf", "Best tacos", "2024-05-01"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestRunUnknownMarket(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeCLIConfig(t, dir)
	if _, err := execute(t, "-c", cfgPath, "run", "--market", "la"); err == nil || !strings.Contains(err.Error(), "unknown market") {
		t.Fatalf("err = %v", err)
	}
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	target := filepath.Join(t.TempDir(), "conf", "guidesync.toml")
	if _, err := execute(t, "config", "init", target); err != nil {
		t.Fatalf("init: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil || !strings.Contains(string(data), "[[markets]]") {
		t.Fatalf("sample not written: %v", err)
	}
	if _, err := execute(t, "config", "init", target); err == nil {
		t.Error("expected refusal to overwrite")
	}
	if _, err := execute(t, "config", "init", "--overwrite", target); err != nil {
		t.Errorf("overwrite: %v", err)
	}
}
