package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"guide-aggregator/models"
	"guide-aggregator/utils"
)

// Classification is the outcome of comparing current tokens to a baseline.
// Changed and Unchanged keep directory order.
type Classification struct {
	Changed   []models.Guide
	Unchanged []models.Guide
	// Tokens holds the current token of every guide that was checked.
	Tokens map[string]string
	// Failed holds guides whose token could not be read. Only populated
	// when FailFast is off.
	Failed map[string]error
	// Retired lists guides missing from the directory, sorted.
	Retired []string
}

// HasWork reports whether a run must publish: some guide changed, or
// pruning is on and a guide left the directory.
func (c *Classification) HasWork(prune bool) bool {
	return len(c.Changed) > 0 || (prune && len(c.Retired) > 0)
}

// RetireOrphans adds to Retired every guide that still owns records in
// previous but is missing from the directory, such as guides removed before
// any baseline recorded them. It returns the names it added.
func (c *Classification) RetireOrphans(directory []models.Guide, previous []models.ListingRecord) []string {
	known := make(map[string]struct{}, len(directory)+len(c.Retired))
	for _, g := range directory {
		known[g.Name] = struct{}{}
	}
	for _, name := range c.Retired {
		known[name] = struct{}{}
	}
	var added []string
	for _, r := range previous {
		if _, ok := known[r.GuideName]; ok {
			continue
		}
		known[r.GuideName] = struct{}{}
		added = append(added, r.GuideName)
	}
	if len(added) > 0 {
		sort.Strings(added)
		c.Retired = append(c.Retired, added...)
		sort.Strings(c.Retired)
	}
	return added
}

// Tracker fetches each guide's token and classifies it against a baseline.
type Tracker struct {
	source Source
	retry  *utils.RetryPolicy
	conc   Concurrency
	logger *utils.Logger
}

// NewTracker creates a Tracker.
func NewTracker(source Source, retry *utils.RetryPolicy, conc Concurrency, logger *utils.Logger) *Tracker {
	return &Tracker{source: source, retry: retry, conc: conc, logger: logger.With("tracker")}
}

// Classify checks every guide. A guide is changed exactly when its token
// differs byte for byte from its baseline entry, or it has none.
func (t *Tracker) Classify(ctx context.Context, guides []models.Guide, baseline models.Baseline) (*Classification, error) {
	tokens := make([]string, len(guides))
	failed, err := forEachGuide(ctx, guides, t.conc, func(ctx context.Context, i int, g models.Guide) error {
		t.logger.Info("Checking if %s has been modified...", g.Name)
		tok, err := utils.Retry(ctx, t.retry, "token "+g.Name, func(ctx context.Context) (string, error) {
			return t.source.Token(ctx, g)
		})
		if err != nil {
			return err
		}
		tokens[i] = tok
		return nil
	})
	if err != nil {
		return nil, err
	}

	c := &Classification{Tokens: make(map[string]string, len(guides)), Failed: failed}
	present := make(map[string]struct{}, len(guides))
	for i, g := range guides {
		present[g.Name] = struct{}{}
		if _, bad := failed[g.Name]; bad {
			continue
		}
		c.Tokens[g.Name] = tokens[i]
		if prev, ok := baseline[g.Name]; ok && prev == tokens[i] {
			c.Unchanged = append(c.Unchanged, g)
			if f, ok := t.source.(forgetter); ok {
				f.Forget(g)
			}
			continue
		}
		t.logger.Info("%s has been modified", g.Name)
		c.Changed = append(c.Changed, g)
	}
	for name := range baseline {
		if _, ok := present[name]; !ok {
			c.Retired = append(c.Retired, name)
		}
	}
	sort.Strings(c.Retired)
	return c, nil
}

// Extractor pulls and cleans the records of changed guides.
type Extractor struct {
	source  Source
	retry   *utils.RetryPolicy
	cleaner *Cleaner
	conc    Concurrency
	logger  *utils.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(source Source, retry *utils.RetryPolicy, cleaner *Cleaner, conc Concurrency, logger *utils.Logger) *Extractor {
	return &Extractor{source: source, retry: retry, cleaner: cleaner, conc: conc, logger: logger.With("extract")}
}

// ExtractAll returns the cleaned records of every guide that succeeded,
// keyed by guide name, and the per-guide failures when FailFast is off.
func (e *Extractor) ExtractAll(ctx context.Context, guides []models.Guide) (map[string][]models.ListingRecord, map[string]error, error) {
	var mu sync.Mutex
	out := make(map[string][]models.ListingRecord, len(guides))
	failed, err := forEachGuide(ctx, guides, e.conc, func(ctx context.Context, _ int, g models.Guide) error {
		raw, err := utils.Retry(ctx, e.retry, "extract "+g.Name, func(ctx context.Context) ([]models.ListingRecord, error) {
			return e.source.Extract(ctx, g)
		})
		if err != nil {
			return err
		}
		recs := e.cleaner.Clean(g, raw)
		e.logger.Info("%s: %d listings", g.Name, len(recs))
		mu.Lock()
		out[g.Name] = recs
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, failed, nil
}

// forEachGuide runs fn for every guide on a bounded pool. With FailFast the
// first error cancels the rest and is returned; otherwise errors are
// collected per guide name.
func forEachGuide(ctx context.Context, guides []models.Guide, conc Concurrency, fn func(ctx context.Context, i int, g models.Guide) error) (map[string]error, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		failed   = make(map[string]error)
		firstErr error
	)
	pool := utils.NewWorkerPool(conc.Workers, 0)
	for i, g := range guides {
		pool.Submit(ctx, func(ctx context.Context) {
			err := fn(ctx, i, g)
			if err == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if conc.FailFast {
				if firstErr == nil {
					firstErr = fmt.Errorf("guide %s: %w", g.Name, err)
					cancel()
				}
				return
			}
			failed[g.Name] = err
		})
	}
	pool.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return failed, nil
}
