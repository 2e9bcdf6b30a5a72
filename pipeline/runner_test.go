package pipeline

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"guide-aggregator/models"
	"guide-aggregator/scraper/sheet"
	"guide-aggregator/services"
	"guide-aggregator/storage"
	"guide-aggregator/utils"
)

const marketURL = "https://docs.google.com/spreadsheets/d/sf-market/edit"

func guideTabs(token string, listings ...[]string) map[string][][]string {
	rows := [][]string{{"Listing_Id", "Display_Name", "Location", "Text", "Labels"}}
	rows = append(rows, listings...)
	return map[string][][]string{
		"listings":       rows,
		"nav":            {{"Listing_Id", "Display_Name", "Location", "Lat", "Lng"}},
		"story_settings": {{"Slug", "Year", "LastModDate_C2P"}, {"guide", "2024", token}},
	}
}

// failingStore fails Open for chosen locators with a retryable error.
type failingStore struct {
	storage.DocumentStore
	fail map[string]bool
}

func (s *failingStore) Open(ctx context.Context, locator string) (storage.Document, error) {
	if s.fail[locator] {
		return nil, errors.New("503 backend error")
	}
	return s.DocumentStore.Open(ctx, locator)
}

type fixture struct {
	t         *testing.T
	store     *storage.MemoryStore
	sources   *failingStore
	market    *storage.MemoryDocument
	snapshots *storage.JSONSnapshotStore
	runner    *Runner
}

func newFixture(t *testing.T, failFast bool) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	market := store.Put(marketURL, "SF guides", map[string][][]string{
		"directory": {
			{"Guide name", "URL", "Last modified"},
			{"Tacos", "guide-tacos", ""},
			{"Pizza", "guide-pizza", ""},
		},
		"database": nil,
	})
	store.Put("guide-tacos", "Tacos", guideTabs("t1",
		[]string{"1", "La Taqueria", "2889 Mission St.", "<p>Carnitas</p>", "Takeout"},
		[]string{"2", "El Farolito", "2779 Mission St.", "", ""},
	))
	store.Put("guide-pizza", "Pizza", guideTabs("p1",
		[]string{"3", "Tony's", "1570 Stockton St.", "", "Reservations"},
		[]string{"1", "La Taqueria", "listed twice", "", ""},
	))

	snaps, err := storage.NewJSONSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	retry := &utils.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
	opts := Options{Retry: retry, Concurrency: services.Concurrency{Workers: 2, FailFast: failFast}}
	return &fixture{
		t:         t,
		store:     store,
		sources:   &failingStore{DocumentStore: store, fail: map[string]bool{}},
		market:    market,
		snapshots: snaps,
		runner:    NewRunner(store, snaps, opts, utils.NewNopLogger()),
	}
}

func (f *fixture) run(prune bool) (*Result, error) {
	f.t.Helper()
	m := Market{
		Key:          "sf",
		Spreadsheet:  marketURL,
		DirectoryTab: "directory",
		DatabaseTab:  "database",
		Source:       sheet.New(f.sources, sheet.Options{}, utils.NewNopLogger()),
		Prune:        prune,
	}
	return f.runner.Run(context.Background(), m)
}

func (f *fixture) mustRun() *Result {
	f.t.Helper()
	res, err := f.run(true)
	if err != nil {
		f.t.Fatalf("Run: %v", err)
	}
	return res
}

func (f *fixture) published() []models.ListingRecord {
	return models.RecordsFromTable(f.market.Tab("database"))
}

func (f *fixture) baseline() models.Baseline {
	f.t.Helper()
	snap, err := f.snapshots.Load(context.Background(), "sf")
	if err != nil {
		f.t.Fatal(err)
	}
	return snap.Baseline
}

func (f *fixture) guide(locator string) *storage.MemoryDocument {
	doc, _ := f.store.Document(locator)
	return doc
}

func names(recs []models.ListingRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.DisplayName
	}
	return out
}

func TestFirstRunPublishesEverything(t *testing.T) {
	f := newFixture(t, true)
	res := f.mustRun()

	if res.State != StatePublished || res.Records != 3 {
		t.Fatalf("state=%s records=%d", res.State, res.Records)
	}
	if !reflect.DeepEqual(res.Changed, []string{"Tacos", "Pizza"}) || len(res.Unchanged) != 0 {
		t.Errorf("changed=%v unchanged=%v", res.Changed, res.Unchanged)
	}

	rows := f.market.Tab("database")
	if !reflect.DeepEqual(rows[0], models.Columns) {
		t.Errorf("header = %v", rows[0])
	}
	got := f.published()
	if want := []string{"El Farolito", "La Taqueria", "Tony's"}; !reflect.DeepEqual(names(got), want) {
		t.Fatalf("published %v, want %v", names(got), want)
	}
	// id 1 is listed by both guides; the earlier directory entry wins
	if got[1].GuideName != "Tacos" || got[1].Location != "2889 Mission St." {
		t.Errorf("kept %+v", got[1])
	}
	if got[1].PlainText != "Carnitas" || !got[1].Takeout {
		t.Errorf("extraction lost fields: %+v", got[1])
	}

	if want := (models.Baseline{"Tacos": "t1", "Pizza": "p1"}); !reflect.DeepEqual(f.baseline(), want) {
		t.Errorf("baseline = %v", f.baseline())
	}
	dir := f.market.Tab("directory")
	if dir[1][2] != "t1" || dir[2][2] != "p1" {
		t.Errorf("directory tokens = %v / %v", dir[1], dir[2])
	}
	if res.Report == nil || res.Report.TotalListings != 3 {
		t.Errorf("report = %+v", res.Report)
	}
}

func TestSecondRunWithoutChangesWritesNothing(t *testing.T) {
	f := newFixture(t, true)
	f.mustRun()
	before := f.market.Writes()
	snapBefore, _ := f.snapshots.Load(context.Background(), "sf")

	res := f.mustRun()
	if res.State != StateNoChanges {
		t.Fatalf("state = %s", res.State)
	}
	if f.market.Writes() != before {
		t.Errorf("market writes %d -> %d, want none", before, f.market.Writes())
	}
	for _, loc := range []string{"guide-tacos", "guide-pizza"} {
		if n := f.guide(loc).Writes(); n != 0 {
			t.Errorf("%s written %d times", loc, n)
		}
	}
	snapAfter, _ := f.snapshots.Load(context.Background(), "sf")
	if snapAfter.RunID != snapBefore.RunID {
		t.Error("snapshot must not be rewritten")
	}
}

func TestOnlyChangedGuideIsReprocessed(t *testing.T) {
	f := newFixture(t, true)
	f.mustRun()

	tacos := guideTabs("t2",
		[]string{"1", "La Taqueria", "2889 Mission St.", "", ""},
		[]string{"4", "Zuni Café", "1658 Market St.", "", ""},
	)
	for tab, rows := range tacos {
		f.guide("guide-tacos").SetTab(tab, rows)
	}
	// edits that do not move the token go unnoticed
	f.guide("guide-pizza").SetTab("listings", [][]string{{"Listing_Id", "Display_Name"}, {"9", "Ignored"}})

	res := f.mustRun()
	if !reflect.DeepEqual(res.Changed, []string{"Tacos"}) || !reflect.DeepEqual(res.Unchanged, []string{"Pizza"}) {
		t.Fatalf("changed=%v unchanged=%v", res.Changed, res.Unchanged)
	}
	if want := []string{"La Taqueria", "Tony's", "Zuni Café"}; !reflect.DeepEqual(names(f.published()), want) {
		t.Errorf("published %v, want %v", names(f.published()), want)
	}
	if got := f.baseline(); got["Tacos"] != "t2" || got["Pizza"] != "p1" {
		t.Errorf("baseline = %v", got)
	}
	dir := f.market.Tab("directory")
	if dir[1][2] != "t2" {
		t.Errorf("directory token = %q", dir[1][2])
	}
}

func TestAbortLeavesEverythingUntouched(t *testing.T) {
	f := newFixture(t, true)
	f.mustRun()
	before := f.market.Writes()
	published := f.published()

	f.guide("guide-pizza").SetTab("story_settings", [][]string{{"Slug", "Year", "LastModDate_C2P"}, {"guide", "2024", "p2"}})
	f.sources.fail["guide-pizza"] = true

	res, err := f.run(true)
	if !errors.Is(err, ErrMarketAborted) || !errors.Is(err, utils.ErrRetriesExhausted) {
		t.Fatalf("err = %v", err)
	}
	if res.State != StateAborted {
		t.Errorf("state = %s", res.State)
	}
	if f.market.Writes() != before {
		t.Error("aborted market must not be written")
	}
	if !reflect.DeepEqual(f.published(), published) {
		t.Error("database tab changed")
	}
	if got := f.baseline(); got["Pizza"] != "p1" {
		t.Errorf("baseline advanced: %v", got)
	}
}

func TestSkipModePublishesHealthyGuides(t *testing.T) {
	f := newFixture(t, false)
	f.sources.fail["guide-pizza"] = true

	res := f.mustRun()
	if res.State != StatePublished {
		t.Fatalf("state = %s", res.State)
	}
	if _, ok := res.Failed["Pizza"]; !ok || len(res.Failed) != 1 {
		t.Errorf("failed = %v", res.Failed)
	}
	if want := []string{"El Farolito", "La Taqueria"}; !reflect.DeepEqual(names(f.published()), want) {
		t.Errorf("published %v", names(f.published()))
	}
	if got := f.baseline(); !reflect.DeepEqual(got, models.Baseline{"Tacos": "t1"}) {
		t.Errorf("baseline = %v", got)
	}
	if dir := f.market.Tab("directory"); len(dir[2]) > 2 && dir[2][2] != "" {
		t.Errorf("failed guide got a token: %v", dir[2])
	}

	delete(f.sources.fail, "guide-pizza")
	res = f.mustRun()
	if !reflect.DeepEqual(res.Changed, []string{"Pizza"}) {
		t.Errorf("changed = %v", res.Changed)
	}
	if len(f.published()) != 3 {
		t.Errorf("published %v", names(f.published()))
	}
}

func TestRetiredGuidesArePruned(t *testing.T) {
	f := newFixture(t, true)
	f.mustRun()
	f.market.SetTab("directory", [][]string{
		{"Guide name", "URL", "Last modified"},
		{"Tacos", "guide-tacos", "t1"},
	})

	res, err := f.run(false)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateNoChanges || !reflect.DeepEqual(res.Retired, []string{"Pizza"}) {
		t.Fatalf("without pruning: state=%s retired=%v", res.State, res.Retired)
	}

	res = f.mustRun()
	if res.State != StatePublished {
		t.Fatalf("state = %s", res.State)
	}
	if want := []string{"El Farolito", "La Taqueria"}; !reflect.DeepEqual(names(f.published()), want) {
		t.Errorf("published %v", names(f.published()))
	}
	if _, ok := f.baseline()["Pizza"]; ok {
		t.Error("retired guide kept its baseline entry")
	}
}

func TestFirstRunStartsFromExistingDatabaseTab(t *testing.T) {
	f := newFixture(t, true)
	legacy := models.ListingRecord{ListingID: "7", DisplayName: "Nopa", Location: "560 Divisadero St.", GuideName: "Tacos"}
	stale := models.ListingRecord{ListingID: "8", DisplayName: "Old pizza place", GuideName: "Pizza"}
	f.market.SetTab("database", models.Rows([]models.ListingRecord{legacy, stale}))
	f.market.SetTab("directory", [][]string{
		{"Guide name", "URL", "Last modified"},
		{"Tacos", "guide-tacos", "t1"},
		{"Pizza", "guide-pizza", "p0"},
	})

	res := f.mustRun()
	if !reflect.DeepEqual(res.Unchanged, []string{"Tacos"}) || !reflect.DeepEqual(res.Changed, []string{"Pizza"}) {
		t.Fatalf("changed=%v unchanged=%v", res.Changed, res.Unchanged)
	}
	got := f.published()
	if want := []string{"La Taqueria", "Nopa", "Tony's"}; !reflect.DeepEqual(names(got), want) {
		t.Fatalf("published %v, want %v", names(got), want)
	}
	if got[1] != legacy {
		t.Errorf("unchanged guide's record changed: %+v", got[1])
	}
}

func TestRecordsOfUnknownGuidesArePruned(t *testing.T) {
	f := newFixture(t, true)
	kept := models.ListingRecord{ListingID: "7", DisplayName: "Nopa", GuideName: "Tacos"}
	orphan := models.ListingRecord{ListingID: "9", DisplayName: "Gone burger", GuideName: "Burgers"}
	f.market.SetTab("database", models.Rows([]models.ListingRecord{kept, orphan}))
	// tokens recorded by an earlier deployment: nothing in the directory changed
	f.market.SetTab("directory", [][]string{
		{"Guide name", "URL", "Last modified"},
		{"Tacos", "guide-tacos", "t1"},
		{"Pizza", "guide-pizza", "p1"},
	})

	res, err := f.run(false)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateNoChanges || len(f.published()) != 2 {
		t.Fatalf("without pruning: state=%s published=%v", res.State, names(f.published()))
	}

	res = f.mustRun()
	if res.State != StatePublished || !reflect.DeepEqual(res.Retired, []string{"Burgers"}) {
		t.Fatalf("state=%s retired=%v", res.State, res.Retired)
	}
	got := f.published()
	if want := []string{"Nopa"}; !reflect.DeepEqual(names(got), want) {
		t.Fatalf("published %v, want %v", names(got), want)
	}
	if len(f.market.Tab("database")) != 2 {
		t.Errorf("stale rows left behind: %v", f.market.Tab("database"))
	}
	if want := (models.Baseline{"Tacos": "t1", "Pizza": "p1"}); !reflect.DeepEqual(f.baseline(), want) {
		t.Errorf("baseline = %v", f.baseline())
	}
}

// unwritableStore hands out documents whose Write always fails.
type unwritableStore struct {
	storage.DocumentStore
}

func (s unwritableStore) Open(ctx context.Context, locator string) (storage.Document, error) {
	doc, err := s.DocumentStore.Open(ctx, locator)
	if err != nil {
		return nil, err
	}
	return unwritableDocument{doc}, nil
}

type unwritableDocument struct {
	storage.Document
}

func (unwritableDocument) Write(context.Context, string, [][]string) error {
	return errors.New("503 backend error")
}

func TestPublishFailureKeepsDatabaseTab(t *testing.T) {
	f := newFixture(t, true)
	f.mustRun()
	before := f.market.Tab("database")

	f.guide("guide-pizza").SetTab("story_settings", [][]string{{"Slug", "Year", "LastModDate_C2P"}, {"guide", "2024", "p2"}})
	f.runner.store = unwritableStore{f.store}

	res, err := f.run(true)
	if !errors.Is(err, ErrMarketAborted) || !errors.Is(err, utils.ErrRetriesExhausted) {
		t.Fatalf("err = %v", err)
	}
	if res.State != StateAborted {
		t.Errorf("state = %s", res.State)
	}
	if got := f.market.Tab("database"); !reflect.DeepEqual(got, before) {
		t.Errorf("database tab changed after a failed publish: %d rows, had %d", len(got), len(before))
	}
	if got := f.baseline(); got["Pizza"] != "p1" {
		t.Errorf("baseline advanced: %v", got)
	}
	if dir := f.market.Tab("directory"); dir[2][2] != "p1" {
		t.Errorf("directory token = %q", dir[2][2])
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	f := newFixture(t, true)
	f.runner.opts.DryRun = true

	res := f.mustRun()
	if res.State != StatePublished || len(res.Published) != 3 {
		t.Fatalf("state=%s published=%d", res.State, len(res.Published))
	}
	if f.market.Writes() != 0 {
		t.Errorf("market written %d times", f.market.Writes())
	}
	snap, _ := f.snapshots.Load(context.Background(), "sf")
	if snap.Found {
		t.Error("dry run saved a snapshot")
	}
}

type recordingMirror struct {
	got []models.ListingRecord
	err error
}

func (m *recordingMirror) Write(_ context.Context, _ string, l []models.ListingRecord) error {
	m.got = l
	return m.err
}

func (m *recordingMirror) Close() error { return nil }

func TestMirrorFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, true)
	good, bad := &recordingMirror{}, &recordingMirror{err: errors.New("connection refused")}
	f.runner.mirrors = []storage.ListingWriter{good, bad}

	res := f.mustRun()
	if res.State != StatePublished || len(good.got) != 3 {
		t.Errorf("state=%s mirrored=%d", res.State, len(good.got))
	}
}

func TestParseDirectory(t *testing.T) {
	rows := [][]string{
		{"guide name", "url", "Last modified"},
		{"Tacos", "a", "tok"},
		{"", "", ""},
		{"No url", "", ""},
		{"  Tacos ", "b", ""},
		{"Pizza", "c"},
	}
	dir, err := ParseDirectory(rows, DirectoryColumns{}, utils.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	want := []models.Guide{{Name: "Tacos", SourceURL: "a", Row: 2}, {Name: "Pizza", SourceURL: "c", Row: 6}}
	if !reflect.DeepEqual(dir.Guides, want) {
		t.Errorf("guides = %+v", dir.Guides)
	}
	if !reflect.DeepEqual(dir.Recorded, models.Baseline{"Tacos": "tok"}) {
		t.Errorf("recorded = %v", dir.Recorded)
	}

	if _, err := ParseDirectory([][]string{{"Name", "Link"}}, DirectoryColumns{}, utils.NewNopLogger()); err == nil {
		t.Error("expected missing column error")
	}
}

func TestWriteTokensAddsMissingColumn(t *testing.T) {
	store := storage.NewMemoryStore()
	doc := store.Put("m", "m", map[string][][]string{"directory": {
		{"Guide name", "URL"},
		{"Tacos", "a"},
		{"Pizza", "b"},
	}})
	dir, err := ParseDirectory(doc.Tab("directory"), DirectoryColumns{}, utils.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	err = dir.WriteTokens(context.Background(), doc, "directory", dir.Guides[1:], map[string]string{"Pizza": "p9"})
	if err != nil {
		t.Fatal(err)
	}
	got := doc.Tab("directory")
	if got[0][2] != "Last modified" || got[2][2] != "p9" || len(got[1]) != 2 {
		t.Errorf("directory = %v", got)
	}
	if doc.Writes() != 1 {
		t.Errorf("writes = %d, want one batch", doc.Writes())
	}
}
