package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"guide-aggregator/models"
)

// CSVWriter exports each market's published aggregate to <dir>/<market>.csv.
// It is safe for concurrent use.
type CSVWriter struct {
	mu  sync.Mutex
	dir string
}

// NewCSVWriter creates the output directory if needed.
func NewCSVWriter(dir string) (*CSVWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}
	return &CSVWriter{dir: dir}, nil
}

// Path returns the export file for market.
func (c *CSVWriter) Path(market string) string {
	return filepath.Join(c.dir, MarketSlug(market)+".csv")
}

// Write replaces the market's export with the header row and every listing.
func (c *CSVWriter) Write(_ context.Context, market string, listings []models.ListingRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.Path(market)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("csv: create file %q: %w", tmp, err)
	}

	w := csv.NewWriter(f)
	if err := w.WriteAll(models.Rows(listings)); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("csv: write rows: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("csv: close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("csv: rename: %w", err)
	}
	return nil
}

// Close is a no-op; files are closed after every write.
func (c *CSVWriter) Close() error { return nil }
