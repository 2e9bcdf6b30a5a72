package services

import (
	"context"

	"guide-aggregator/models"
)

// Source is where a guide's token and records come from: a guide
// spreadsheet or a published page.
type Source interface {
	Token(ctx context.Context, guide models.Guide) (string, error)
	Extract(ctx context.Context, guide models.Guide) ([]models.ListingRecord, error)
}

// forgetter is implemented by sources that cache the data read for a token
// check until the guide is extracted.
type forgetter interface {
	Forget(guide models.Guide)
}

// Concurrency bounds per-guide remote work.
type Concurrency struct {
	Workers int
	// FailFast aborts on the first guide that exhausts its retries. When
	// false the guide is reported in Failed and the rest continue.
	FailFast bool
}
