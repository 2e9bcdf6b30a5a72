package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"guide-aggregator/models"
	"guide-aggregator/services"
	"guide-aggregator/storage"
	"guide-aggregator/utils"
)

// ErrMarketAborted is matched by every error that stopped a market before
// publication completed. The baseline was not advanced, so the next run
// reprocesses the same guides.
var ErrMarketAborted = errors.New("market aborted")

// Market is one market as the runner needs it.
type Market struct {
	Key          string
	Spreadsheet  string
	DirectoryTab string
	DatabaseTab  string
	Columns      DirectoryColumns
	// Source reads the market's guides.
	Source services.Source
	// Prune drops retired guides' records and baseline entries.
	Prune bool
}

// Options tune every market the runner processes.
type Options struct {
	Retry       *utils.RetryPolicy
	Concurrency services.Concurrency
	// DryRun publishes into an in-memory copy of the database tab and skips
	// the snapshot, the directory write-back and the mirrors.
	DryRun bool
}

// Result summarizes one market run.
type Result struct {
	Market    string
	RunID     string
	State     State
	Guides    int
	Changed   []string
	Unchanged []string
	Failed    map[string]error
	Retired   []string
	Records   int
	Duration  time.Duration
	Report    *models.RunReport
	// Published is the aggregate written by this run, nil unless PUBLISHED.
	Published []models.ListingRecord
}

// Runner drives markets through the sync pipeline.
type Runner struct {
	store     storage.DocumentStore
	snapshots storage.SnapshotStore
	mirrors   []storage.ListingWriter
	reports   *services.ReportService
	opts      Options
	logger    *utils.Logger

	now      func() time.Time
	newRunID func() string
}

// NewRunner creates a Runner. Mirrors receive every published aggregate.
func NewRunner(store storage.DocumentStore, snapshots storage.SnapshotStore, opts Options, logger *utils.Logger, mirrors ...storage.ListingWriter) *Runner {
	if opts.Retry == nil {
		opts.Retry = utils.DefaultRetryPolicy(logger)
	}
	return &Runner{
		store:     store,
		snapshots: snapshots,
		mirrors:   mirrors,
		reports:   services.NewReportService(logger),
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		newRunID:  func() string { return uuid.NewString() },
	}
}

// Run processes one market. On error the returned Result still describes
// how far the run got.
func (r *Runner) Run(ctx context.Context, m Market) (*Result, error) {
	res := &Result{Market: m.Key, RunID: r.newRunID(), State: StateStart}
	started := r.now()
	defer func() { res.Duration = r.now().Sub(started) }()

	log := r.logger.With(fmt.Sprintf("%s %s", m.Key, shortID(res.RunID)))
	abort := func(step string, err error) (*Result, error) {
		log.Error("%s failed in state %s: %v", step, res.State, err)
		res.State = StateAborted
		return res, fmt.Errorf("%w: %s: %s: %w", ErrMarketAborted, m.Key, step, err)
	}

	doc, err := utils.Retry(ctx, r.opts.Retry, "open "+m.Key, func(ctx context.Context) (storage.Document, error) {
		return r.store.Open(ctx, m.Spreadsheet)
	})
	if err != nil {
		return abort("open market document", err)
	}
	dirRows, err := utils.Retry(ctx, r.opts.Retry, "read "+m.DirectoryTab, func(ctx context.Context) ([][]string, error) {
		return doc.Rows(ctx, m.DirectoryTab)
	})
	if err != nil {
		return abort("read directory", err)
	}
	dir, err := ParseDirectory(dirRows, m.Columns, log)
	if err != nil {
		return abort("parse directory", err)
	}
	snap, err := r.snapshots.Load(ctx, m.Key)
	if err != nil {
		return abort("load snapshot", err)
	}
	baseline := snap.Baseline.Clone()
	if !snap.Found && len(dir.Recorded) > 0 {
		log.Info("No snapshot yet, seeding baseline from %d recorded tokens", len(dir.Recorded))
		baseline = dir.Recorded.Clone()
	}
	res.State = StateDirectoryLoaded
	res.Guides = len(dir.Guides)
	log.Info("%s: %d guides in directory", doc.Title(), len(dir.Guides))

	conc := r.opts.Concurrency
	tracker := services.NewTracker(m.Source, r.opts.Retry, conc, log)
	class, err := tracker.Classify(ctx, dir.Guides, baseline)
	if err != nil {
		return abort("classify", err)
	}
	res.State = StateClassified
	res.Changed = guideNames(class.Changed)
	res.Unchanged = guideNames(class.Unchanged)
	res.Failed = make(map[string]error)
	for name, ferr := range class.Failed {
		res.Failed[name] = ferr
	}

	previous, err := r.previousAggregate(ctx, doc, m, snap, log)
	if err != nil {
		return abort("read previous aggregate", err)
	}
	if m.Prune {
		class.RetireOrphans(dir.Guides, previous)
	}
	res.Retired = class.Retired
	for _, name := range class.Retired {
		log.Info("%q left the directory", name)
	}

	if !class.HasWork(m.Prune) {
		log.Info("No guides changed, nothing to publish")
		res.State = StateNoChanges
		res.Records = len(previous)
		res.Report = r.report(res, class, nil, previous)
		return res, nil
	}

	res.State = StateExtracting
	extractor := services.NewExtractor(m.Source, r.opts.Retry, services.NewCleaner(log), conc, log)
	fresh, failed, err := extractor.ExtractAll(ctx, class.Changed)
	if err != nil {
		return abort("extract", err)
	}
	var reprocessed []models.Guide
	for _, g := range class.Changed {
		if ferr, bad := failed[g.Name]; bad {
			log.Warn("%s skipped after failing: %v", g.Name, ferr)
			res.Failed[g.Name] = ferr
			continue
		}
		reprocessed = append(reprocessed, g)
	}
	var retired []string
	if m.Prune {
		retired = class.Retired
	}
	if len(reprocessed) == 0 && len(retired) == 0 {
		log.Warn("Every changed guide failed, nothing to publish")
		res.State = StateNoChanges
		res.Records = len(previous)
		res.Report = r.report(res, class, nil, previous)
		return res, nil
	}

	merged := services.Merge(services.MergeInput{
		Previous:    previous,
		Fresh:       fresh,
		Reprocessed: guideNames(reprocessed),
		Retired:     retired,
	}, log)
	res.State = StateMerged
	res.Records = len(merged)

	target := doc
	if r.opts.DryRun {
		target = dryRunCopy(doc, m.DatabaseTab)
	}
	if err := r.publish(ctx, target, m.DatabaseTab, merged); err != nil {
		return abort("publish", err)
	}
	res.State = StatePublished
	res.Published = merged
	res.Report = r.report(res, class, reprocessed, merged)
	log.Info("Published %d listings to %s (%d guides reprocessed)", len(merged), m.DatabaseTab, len(reprocessed))

	if r.opts.DryRun {
		log.Info("Dry run: snapshot, directory and mirrors left untouched")
		return res, nil
	}

	next := baseline.Clone()
	for _, g := range class.Unchanged {
		next[g.Name] = class.Tokens[g.Name]
	}
	for _, g := range reprocessed {
		next[g.Name] = class.Tokens[g.Name]
	}
	for _, name := range retired {
		delete(next, name)
	}
	err = r.snapshots.Save(ctx, &storage.Snapshot{
		Market:    m.Key,
		RunID:     res.RunID,
		SavedAt:   r.now().UTC(),
		Baseline:  next,
		Aggregate: merged,
	})
	if err != nil {
		return res, fmt.Errorf("%s: save snapshot after publish: %w", m.Key, err)
	}

	err = r.opts.Retry.Do(ctx, "write back tokens", func(ctx context.Context) error {
		return dir.WriteTokens(ctx, doc, m.DirectoryTab, reprocessed, class.Tokens)
	})
	if err != nil {
		log.Warn("Could not record tokens in %s: %v", m.DirectoryTab, err)
	}

	r.mirror(ctx, m.Key, merged, log)
	return res, nil
}

// previousAggregate is the aggregate the last run published: the snapshot's
// copy, or on a first run whatever the database tab holds.
func (r *Runner) previousAggregate(ctx context.Context, doc storage.Document, m Market, snap *storage.Snapshot, log *utils.Logger) ([]models.ListingRecord, error) {
	if snap.Found {
		return snap.Aggregate, nil
	}
	rows, err := utils.Retry(ctx, r.opts.Retry, "read "+m.DatabaseTab, func(ctx context.Context) ([][]string, error) {
		return doc.Rows(ctx, m.DatabaseTab)
	})
	if errors.Is(err, storage.ErrTabNotFound) {
		log.Warn("%s does not exist yet", m.DatabaseTab)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	previous := models.RecordsFromTable(rows)
	if len(previous) > 0 {
		log.Info("Starting from %d listings already in %s", len(previous), m.DatabaseTab)
	}
	return previous, nil
}

// publish overwrites tab from A1, then clears what the previous table left
// below or beside the new one. A failed write leaves the old table intact.
func (r *Runner) publish(ctx context.Context, doc storage.Document, tab string, listings []models.ListingRecord) error {
	rows := models.Rows(listings)
	err := r.opts.Retry.Do(ctx, "write "+tab, func(ctx context.Context) error {
		return doc.Write(ctx, tab, rows)
	})
	if err != nil {
		return err
	}
	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}
	return r.opts.Retry.Do(ctx, "truncate "+tab, func(ctx context.Context) error {
		return doc.Truncate(ctx, tab, len(rows), width)
	})
}

// mirror copies the aggregate to every mirror concurrently. Failures are
// logged and never affect the run.
func (r *Runner) mirror(ctx context.Context, market string, listings []models.ListingRecord, log *utils.Logger) {
	if len(r.mirrors) == 0 {
		return
	}
	var g errgroup.Group
	for _, w := range r.mirrors {
		g.Go(func() error {
			if err := w.Write(ctx, market, listings); err != nil {
				log.Warn("Mirror %T failed: %v", w, err)
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err == nil {
		log.Info("Mirrored %d listings to %d destinations", len(listings), len(r.mirrors))
	}
}

func (r *Runner) report(res *Result, class *services.Classification, reprocessed []models.Guide, listings []models.ListingRecord) *models.RunReport {
	status := make(map[string]string, res.Guides)
	for _, g := range class.Unchanged {
		status[g.Name] = "unchanged"
	}
	for _, g := range class.Changed {
		status[g.Name] = "changed"
	}
	for _, g := range reprocessed {
		status[g.Name] = "reprocessed"
	}

	rep := &models.RunReport{Market: res.Market, RunID: res.RunID, State: string(res.State)}
	names := append(append(guideNames(class.Changed), guideNames(class.Unchanged)...), sortedKeys(res.Failed)...)
	seen := utils.NewKeySet()
	for _, name := range names {
		if !seen.Add(name) {
			continue
		}
		s := models.GuideSummary{Name: name, Status: status[name], Token: class.Tokens[name]}
		if ferr, bad := res.Failed[name]; bad {
			s.Status, s.ErrorMsg = "failed", ferr.Error()
		}
		rep.Guides = append(rep.Guides, s)
	}
	for _, name := range res.Retired {
		rep.Guides = append(rep.Guides, models.GuideSummary{Name: name, Status: "retired"})
	}
	return r.reports.Generate(rep, listings)
}

// dryRunCopy returns an in-memory stand-in for doc holding nothing but an
// empty database tab.
func dryRunCopy(doc storage.Document, tab string) storage.Document {
	mem := storage.NewMemoryStore()
	return mem.Put(doc.Locator(), doc.Title()+" (dry run)", map[string][][]string{tab: nil})
}

func guideNames(guides []models.Guide) []string {
	out := make([]string, len(guides))
	for i, g := range guides {
		out[i] = g.Name
	}
	return out
}

func sortedKeys(m map[string]error) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
