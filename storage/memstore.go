package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"guide-aggregator/utils"
)

// MemoryStore is an in-process DocumentStore. It backs dry runs and tests.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]*MemoryDocument
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*MemoryDocument)}
}

// Put registers (or replaces) a document under locator.
func (s *MemoryStore) Put(locator, title string, tabs map[string][][]string) *MemoryDocument {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := &MemoryDocument{locator: locator, title: title, tabs: make(map[string][][]string)}
	for name, rows := range tabs {
		doc.tabs[name] = cloneRows(rows)
	}
	s.docs[locator] = doc
	return doc
}

// Open implements DocumentStore.
func (s *MemoryStore) Open(_ context.Context, locator string) (Document, error) {
	doc, ok := s.Document(locator)
	if !ok {
		return nil, utils.Permanent(fmt.Errorf("open %q: %w", locator, ErrDocumentNotFound))
	}
	return doc, nil
}

// Document returns the concrete document for inspection.
func (s *MemoryStore) Document(locator string) (*MemoryDocument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[locator]
	return doc, ok
}

// Locators lists every registered document.
func (s *MemoryStore) Locators() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.docs))
	for l := range s.docs {
		out = append(out, l)
	}
	return out
}

// MemoryDocument is a document held in memory. Tabs grow as cells are written.
type MemoryDocument struct {
	mu      sync.Mutex
	locator string
	title   string
	tabs    map[string][][]string
	writes  int
}

func (d *MemoryDocument) Title() string   { return d.title }
func (d *MemoryDocument) Locator() string { return d.locator }

// Writes counts mutating calls, so tests can assert a run made none.
func (d *MemoryDocument) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

// Tab returns a copy of tab's rows.
func (d *MemoryDocument) Tab(tab string) [][]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneRows(d.tabs[tab])
}

// SetTab replaces tab's rows without counting a write.
func (d *MemoryDocument) SetTab(tab string, rows [][]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tabs[tab] = cloneRows(rows)
}

func (d *MemoryDocument) Rows(_ context.Context, tab string) ([][]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rows, ok := d.tabs[tab]
	if !ok {
		return nil, missingTab(d.title, tab)
	}
	return cloneRows(rows), nil
}

func (d *MemoryDocument) BatchRows(ctx context.Context, ranges []string) ([][][]string, error) {
	out := make([][][]string, 0, len(ranges))
	for _, r := range ranges {
		tab, bounds := SplitRange(r)
		rows, err := d.Rows(ctx, tab)
		if err != nil {
			return nil, err
		}
		out = append(out, bounds.apply(rows))
	}
	return out, nil
}

func (d *MemoryDocument) Clear(_ context.Context, tab string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tabs[tab]; !ok {
		return missingTab(d.title, tab)
	}
	d.tabs[tab] = nil
	d.writes++
	return nil
}

func (d *MemoryDocument) Write(_ context.Context, tab string, rows [][]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tabs[tab]; !ok {
		return missingTab(d.title, tab)
	}
	existing := d.tabs[tab]
	for i, row := range rows {
		existing = setRow(existing, i, row)
	}
	d.tabs[tab] = existing
	d.writes++
	return nil
}

func (d *MemoryDocument) Truncate(_ context.Context, tab string, rows, cols int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	existing, ok := d.tabs[tab]
	if !ok {
		return missingTab(d.title, tab)
	}
	if len(existing) > rows {
		existing = existing[:rows]
	}
	for i, r := range existing {
		if len(r) > cols {
			existing[i] = r[:cols]
		}
	}
	d.tabs[tab] = existing
	d.writes++
	return nil
}

func (d *MemoryDocument) UpdateCell(_ context.Context, tab string, row, col int, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.setCell(tab, row, col, value); err != nil {
		return err
	}
	d.writes++
	return nil
}

func (d *MemoryDocument) BatchUpdate(_ context.Context, tab string, updates []CellUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range updates {
		if err := d.setCell(tab, u.Row, u.Col, u.Value); err != nil {
			return err
		}
	}
	d.writes++
	return nil
}

func (d *MemoryDocument) setCell(tab string, row, col int, value string) error {
	rows, ok := d.tabs[tab]
	if !ok {
		return missingTab(d.title, tab)
	}
	if row < 1 || col < 1 {
		return fmt.Errorf("%s/%s: invalid cell R%dC%d", d.title, tab, row, col)
	}
	for len(rows) < row {
		rows = append(rows, nil)
	}
	r := rows[row-1]
	for len(r) < col {
		r = append(r, "")
	}
	r[col-1] = value
	rows[row-1] = r
	d.tabs[tab] = rows
	return nil
}

func setRow(rows [][]string, i int, row []string) [][]string {
	for len(rows) <= i {
		rows = append(rows, nil)
	}
	rows[i] = append([]string(nil), row...)
	return rows
}

func cloneRows(rows [][]string) [][]string {
	if rows == nil {
		return nil
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// CellBounds is the rectangle of an A1 range, 1-based and inclusive. Zero
// values mean unbounded.
type CellBounds struct {
	FirstCol, FirstRow int
	LastCol, LastRow   int
}

// SplitRange splits "listings!A1:Z1000" into the tab name and its bounds.
// A bare tab name yields unbounded bounds.
func SplitRange(r string) (string, CellBounds) {
	tab, cells, found := strings.Cut(r, "!")
	tab = strings.Trim(tab, "'")
	if !found {
		return tab, CellBounds{}
	}
	start, end, _ := strings.Cut(cells, ":")
	c1, r1 := parseA1(start)
	c2, r2 := parseA1(end)
	return tab, CellBounds{FirstCol: c1, FirstRow: r1, LastCol: c2, LastRow: r2}
}

func parseA1(ref string) (col, row int) {
	ref = strings.ToUpper(strings.TrimSpace(ref))
	i := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		col = col*26 + int(ref[i]-'A'+1)
		i++
	}
	for ; i < len(ref); i++ {
		if ref[i] < '0' || ref[i] > '9' {
			return col, 0
		}
		row = row*10 + int(ref[i]-'0')
	}
	return col, row
}

func (b CellBounds) apply(rows [][]string) [][]string {
	firstRow := max(b.FirstRow, 1)
	lastRow := len(rows)
	if b.LastRow > 0 && b.LastRow < lastRow {
		lastRow = b.LastRow
	}
	if firstRow > lastRow {
		return nil
	}
	firstCol := max(b.FirstCol, 1)
	out := make([][]string, 0, lastRow-firstRow+1)
	for _, row := range rows[firstRow-1 : lastRow] {
		lastCol := len(row)
		if b.LastCol > 0 && b.LastCol < lastCol {
			lastCol = b.LastCol
		}
		if firstCol > lastCol {
			out = append(out, []string{})
			continue
		}
		out = append(out, append([]string(nil), row[firstCol-1:lastCol]...))
	}
	return out
}

// ColumnName converts a 1-based column number to its letters (1 -> A, 27 -> AA).
func ColumnName(col int) string {
	name := ""
	for col > 0 {
		col--
		name = string(rune('A'+col%26)) + name
		col /= 26
	}
	return name
}

// CellRef renders an A1 reference on tab.
func CellRef(tab string, row, col int) string {
	return fmt.Sprintf("'%s'!%s%d", tab, ColumnName(col), row)
}
