package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"guide-aggregator/models"
)

const snapshotFileVersion = 1

// snapshotFile is the on-disk layout. The baseline is a flat list sorted by
// guide name so diffs between runs stay readable.
type snapshotFile struct {
	Version   int                    `json:"version"`
	Market    string                 `json:"market"`
	RunID     string                 `json:"run_id"`
	SavedAt   time.Time              `json:"saved_at"`
	Baseline  []models.GuideToken    `json:"baseline"`
	Aggregate []models.ListingRecord `json:"aggregate"`
}

// JSONSnapshotStore keeps one JSON file per market under dir.
type JSONSnapshotStore struct {
	dir string
}

// NewJSONSnapshotStore creates dir if needed.
func NewJSONSnapshotStore(dir string) (*JSONSnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	return &JSONSnapshotStore{dir: dir}, nil
}

// Path returns the file a market's snapshot lives in.
func (s *JSONSnapshotStore) Path(market string) string {
	return filepath.Join(s.dir, MarketSlug(market)+".json")
}

func (s *JSONSnapshotStore) Load(_ context.Context, market string) (*Snapshot, error) {
	data, err := os.ReadFile(s.Path(market))
	if errors.Is(err, os.ErrNotExist) {
		return EmptySnapshot(market), nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", market, err)
	}

	var f snapshotFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("snapshot: decode %s: %w", market, err)
	}
	return &Snapshot{
		Market:    market,
		RunID:     f.RunID,
		SavedAt:   f.SavedAt,
		Baseline:  models.BaselineFromEntries(f.Baseline),
		Aggregate: f.Aggregate,
		Found:     true,
	}, nil
}

func (s *JSONSnapshotStore) Save(_ context.Context, snap *Snapshot) error {
	if snap == nil || snap.Market == "" {
		return errors.New("snapshot: market is required")
	}
	f := snapshotFile{
		Version:   snapshotFileVersion,
		Market:    snap.Market,
		RunID:     snap.RunID,
		SavedAt:   snap.SavedAt.UTC(),
		Baseline:  snap.Baseline.Entries(),
		Aggregate: snap.Aggregate,
	}
	if f.Aggregate == nil {
		f.Aggregate = []models.ListingRecord{}
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: encode %s: %w", snap.Market, err)
	}
	if err := writeFileAtomic(s.Path(snap.Market), data, 0o644); err != nil {
		return fmt.Errorf("snapshot: save %s: %w", snap.Market, err)
	}
	return nil
}

func (s *JSONSnapshotStore) Close() error { return nil }

// writeFileAtomic never leaves a partially written file at path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// MarketSlug turns a market key into a safe file name component.
func MarketSlug(market string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(market)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "market"
	}
	return b.String()
}
