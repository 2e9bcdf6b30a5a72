package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guide-aggregator/models"
	"guide-aggregator/utils"
)

var (
	// ErrDocumentNotFound is returned by Open when the locator resolves to nothing.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrTabNotFound is returned when a named tab does not exist in a document.
	ErrTabNotFound = errors.New("tab not found")
)

// CellUpdate addresses one cell by 1-based row and column.
type CellUpdate struct {
	Row   int
	Col   int
	Value string
}

// DocumentStore opens remote spreadsheet-like documents by locator.
type DocumentStore interface {
	Open(ctx context.Context, locator string) (Document, error)
}

// Document is the narrow worksheet API the pipeline depends on.
type Document interface {
	Title() string
	Locator() string

	// Rows returns every row of tab, header included.
	Rows(ctx context.Context, tab string) ([][]string, error)
	// BatchRows reads several A1 ranges ("tab!A1:Z1000") in one request, in order.
	BatchRows(ctx context.Context, ranges []string) ([][][]string, error)
	Clear(ctx context.Context, tab string) error
	// Write stores rows starting at A1.
	Write(ctx context.Context, tab string, rows [][]string) error
	// Truncate clears every cell of tab outside the first rows x cols block.
	Truncate(ctx context.Context, tab string, rows, cols int) error
	UpdateCell(ctx context.Context, tab string, row, col int, value string) error
	BatchUpdate(ctx context.Context, tab string, updates []CellUpdate) error
}

// Snapshot is what a market run persists for the next run.
type Snapshot struct {
	Market    string
	RunID     string
	SavedAt   time.Time
	Baseline  models.Baseline
	Aggregate []models.ListingRecord
	// Found is false when nothing was stored for the market yet.
	Found bool
}

// SnapshotStore persists baselines between runs. Load returns an empty
// snapshot, not an error, when the market has never been saved.
type SnapshotStore interface {
	Load(ctx context.Context, market string) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Close() error
}

// ListingWriter is the interface any aggregate mirror must satisfy.
type ListingWriter interface {
	Write(ctx context.Context, market string, listings []models.ListingRecord) error
	Close() error
}

// EmptySnapshot is the first-run snapshot for market.
func EmptySnapshot(market string) *Snapshot {
	return &Snapshot{Market: market, Baseline: models.Baseline{}}
}

// missingTab reports that doc has no tab of that name. Retrying cannot fix it.
func missingTab(doc, tab string) error {
	return utils.Permanent(fmt.Errorf("%s/%s: %w", doc, tab, ErrTabNotFound))
}
