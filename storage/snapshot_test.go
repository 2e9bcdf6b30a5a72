package storage

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"guide-aggregator/models"
)

func sampleSnapshot(market string) *Snapshot {
	return &Snapshot{
		Market:  market,
		RunID:   "run-1",
		SavedAt: time.Date(2026, 4, 24, 9, 30, 0, 0, time.UTC),
		Baseline: models.Baseline{
			"Best tacos":  "2026-04-01T10:00:00",
			"Best brunch": "2026-03-15T08:00:00",
		},
		Aggregate: []models.ListingRecord{
			{ListingID: "1", DisplayName: "Al Pastor Papi", GuideName: "Best tacos", Amenities: models.Amenities{Takeout: true}},
			{ListingID: "2", DisplayName: "Zazie", GuideName: "Best brunch"},
		},
	}
}

func snapshotStores(t *testing.T) map[string]SnapshotStore {
	t.Helper()
	jsonStore, err := NewJSONSnapshotStore(filepath.Join(t.TempDir(), "json"))
	if err != nil {
		t.Fatal(err)
	}
	sqliteStore, err := OpenSQLiteSnapshotStore(context.Background(), filepath.Join(t.TempDir(), "sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqliteStore.Close() })
	return map[string]SnapshotStore{"json": jsonStore, "sqlite": sqliteStore}
}

func TestSnapshotStoreMissingMarketIsEmpty(t *testing.T) {
	for name, store := range snapshotStores(t) {
		t.Run(name, func(t *testing.T) {
			snap, err := store.Load(context.Background(), "sf")
			if err != nil {
				t.Fatal(err)
			}
			if snap.Found || len(snap.Baseline) != 0 || len(snap.Aggregate) != 0 {
				t.Errorf("expected empty snapshot, got %+v", snap)
			}
			if snap.Baseline == nil {
				t.Error("baseline map must be usable")
			}
		})
	}
}

func TestSnapshotStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range snapshotStores(t) {
		t.Run(name, func(t *testing.T) {
			want := sampleSnapshot("sf")
			if err := store.Save(ctx, want); err != nil {
				t.Fatal(err)
			}
			got, err := store.Load(ctx, "sf")
			if err != nil {
				t.Fatal(err)
			}
			if !got.Found || got.RunID != want.RunID || !got.SavedAt.Equal(want.SavedAt) {
				t.Errorf("metadata mismatch: %+v", got)
			}
			if !reflect.DeepEqual(got.Baseline, want.Baseline) {
				t.Errorf("baseline = %v, want %v", got.Baseline, want.Baseline)
			}
			if !reflect.DeepEqual(got.Aggregate, want.Aggregate) {
				t.Errorf("aggregate = %+v, want %+v", got.Aggregate, want.Aggregate)
			}

			// a second save replaces, never merges
			next := sampleSnapshot("sf")
			next.RunID = "run-2"
			next.Baseline = models.Baseline{"Best tacos": "2026-05-01T00:00:00"}
			next.Aggregate = next.Aggregate[:1]
			if err := store.Save(ctx, next); err != nil {
				t.Fatal(err)
			}
			got, err = store.Load(ctx, "sf")
			if err != nil {
				t.Fatal(err)
			}
			if len(got.Baseline) != 1 || len(got.Aggregate) != 1 || got.RunID != "run-2" {
				t.Errorf("second save not replaced: %+v", got)
			}

			other, err := store.Load(ctx, "la")
			if err != nil {
				t.Fatal(err)
			}
			if other.Found {
				t.Error("markets must not share snapshots")
			}
		})
	}
}

func TestJSONSnapshotLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJSONSnapshotStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(context.Background(), sampleSnapshot("San Francisco")); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "san-francisco.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("dir entries = %v, want [san-francisco.json]", names)
	}
}

func TestMarketSlug(t *testing.T) {
	tests := map[string]string{
		"sf":             "sf",
		" San Francisco": "san-francisco",
		"la/oc":          "la-oc",
		"":               "market",
	}
	for in, want := range tests {
		if got := MarketSlug(in); got != want {
			t.Errorf("MarketSlug(%q) = %q, want %q", in, got, want)
		}
	}
}
