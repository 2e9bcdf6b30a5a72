package storage

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttled paces every remote call of a DocumentStore through one shared
// limiter. Sheets quotas are per project, so all documents share it.
type Throttled struct {
	inner   DocumentStore
	limiter *rate.Limiter
}

// NewThrottled wraps inner. rps <= 0 disables throttling.
func NewThrottled(inner DocumentStore, rps float64, burst int) *Throttled {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttled{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

func (t *Throttled) Open(ctx context.Context, locator string) (Document, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	doc, err := t.inner.Open(ctx, locator)
	if err != nil {
		return nil, err
	}
	return &throttledDocument{Document: doc, limiter: t.limiter}, nil
}

type throttledDocument struct {
	Document
	limiter *rate.Limiter
}

func (d *throttledDocument) Rows(ctx context.Context, tab string) ([][]string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return d.Document.Rows(ctx, tab)
}

func (d *throttledDocument) BatchRows(ctx context.Context, ranges []string) ([][][]string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return d.Document.BatchRows(ctx, ranges)
}

func (d *throttledDocument) Clear(ctx context.Context, tab string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return d.Document.Clear(ctx, tab)
}

func (d *throttledDocument) Write(ctx context.Context, tab string, rows [][]string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return d.Document.Write(ctx, tab, rows)
}

func (d *throttledDocument) Truncate(ctx context.Context, tab string, rows, cols int) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return d.Document.Truncate(ctx, tab, rows, cols)
}

func (d *throttledDocument) UpdateCell(ctx context.Context, tab string, row, col int, value string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return d.Document.UpdateCell(ctx, tab, row, col, value)
}

func (d *throttledDocument) BatchUpdate(ctx context.Context, tab string, updates []CellUpdate) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return d.Document.BatchUpdate(ctx, tab, updates)
}
