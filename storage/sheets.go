package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"guide-aggregator/utils"
)

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)

// SpreadsheetID extracts the document id from a Sheets URL. Anything that is
// not a URL is taken to be an id already.
func SpreadsheetID(locator string) string {
	locator = strings.TrimSpace(locator)
	if m := spreadsheetIDPattern.FindStringSubmatch(locator); m != nil {
		return m[1]
	}
	return locator
}

// SheetsStore opens Google Sheets documents through the Sheets v4 API.
type SheetsStore struct {
	svc *sheets.Service
}

// NewSheetsStore authenticates with a service-account credentials file.
func NewSheetsStore(ctx context.Context, credentialsFile string) (*SheetsStore, error) {
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}
	return &SheetsStore{svc: svc}, nil
}

func (s *SheetsStore) Open(ctx context.Context, locator string) (Document, error) {
	id := SpreadsheetID(locator)
	if id == "" {
		return nil, utils.Permanent(fmt.Errorf("sheets: empty locator: %w", ErrDocumentNotFound))
	}
	ss, err := s.svc.Spreadsheets.Get(id).Fields("properties.title").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: open %s: %w", id, mapSheetsError(err, ErrDocumentNotFound))
	}
	title := id
	if ss.Properties != nil && ss.Properties.Title != "" {
		title = ss.Properties.Title
	}
	return &sheetsDocument{svc: s.svc, id: id, locator: locator, title: title}, nil
}

type sheetsDocument struct {
	svc     *sheets.Service
	id      string
	locator string
	title   string
}

func (d *sheetsDocument) Title() string   { return d.title }
func (d *sheetsDocument) Locator() string { return d.locator }

func (d *sheetsDocument) Rows(ctx context.Context, tab string) ([][]string, error) {
	vr, err := d.svc.Spreadsheets.Values.Get(d.id, quoteTab(tab)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: read %s/%s: %w", d.title, tab, mapSheetsError(err, ErrTabNotFound))
	}
	return toStrings(vr.Values), nil
}

func (d *sheetsDocument) BatchRows(ctx context.Context, ranges []string) ([][][]string, error) {
	quoted := make([]string, len(ranges))
	for i, r := range ranges {
		tab, cells, found := strings.Cut(r, "!")
		quoted[i] = quoteTab(strings.Trim(tab, "'"))
		if found {
			quoted[i] += "!" + cells
		}
	}
	resp, err := d.svc.Spreadsheets.Values.BatchGet(d.id).Ranges(quoted...).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: batch read %s: %w", d.title, mapSheetsError(err, ErrTabNotFound))
	}
	if len(resp.ValueRanges) != len(ranges) {
		return nil, fmt.Errorf("sheets: batch read %s: got %d ranges, want %d", d.title, len(resp.ValueRanges), len(ranges))
	}
	out := make([][][]string, len(resp.ValueRanges))
	for i, vr := range resp.ValueRanges {
		out[i] = toStrings(vr.Values)
	}
	return out, nil
}

func (d *sheetsDocument) Clear(ctx context.Context, tab string) error {
	_, err := d.svc.Spreadsheets.Values.Clear(d.id, quoteTab(tab), &sheets.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: clear %s/%s: %w", d.title, tab, mapSheetsError(err, ErrTabNotFound))
	}
	return nil
}

func (d *sheetsDocument) Write(ctx context.Context, tab string, rows [][]string) error {
	vr := &sheets.ValueRange{Values: toValues(rows)}
	_, err := d.svc.Spreadsheets.Values.Update(d.id, quoteTab(tab)+"!A1", vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: write %s/%s: %w", d.title, tab, mapSheetsError(err, ErrTabNotFound))
	}
	return nil
}

// Truncate clears only the part of the current extent past rows x cols, so
// the ranges never exceed the grid.
func (d *sheetsDocument) Truncate(ctx context.Context, tab string, rows, cols int) error {
	current, err := d.Rows(ctx, tab)
	if err != nil {
		return err
	}
	width := 0
	for _, r := range current {
		width = max(width, len(r))
	}
	var ranges []string
	if len(current) > rows {
		ranges = append(ranges, fmt.Sprintf("%s!A%d:%s%d", quoteTab(tab), rows+1, ColumnName(width), len(current)))
	}
	if width > cols {
		ranges = append(ranges, fmt.Sprintf("%s!%s1:%s%d", quoteTab(tab), ColumnName(cols+1), ColumnName(width), len(current)))
	}
	if len(ranges) == 0 {
		return nil
	}
	req := &sheets.BatchClearValuesRequest{Ranges: ranges}
	if _, err := d.svc.Spreadsheets.Values.BatchClear(d.id, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("sheets: truncate %s/%s: %w", d.title, tab, mapSheetsError(err, ErrTabNotFound))
	}
	return nil
}

func (d *sheetsDocument) UpdateCell(ctx context.Context, tab string, row, col int, value string) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{{value}}}
	_, err := d.svc.Spreadsheets.Values.Update(d.id, CellRef(tab, row, col), vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: update %s: %w", CellRef(tab, row, col), mapSheetsError(err, ErrTabNotFound))
	}
	return nil
}

func (d *sheetsDocument) BatchUpdate(ctx context.Context, tab string, updates []CellUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	req := &sheets.BatchUpdateValuesRequest{ValueInputOption: "RAW"}
	for _, u := range updates {
		req.Data = append(req.Data, &sheets.ValueRange{
			Range:  CellRef(tab, u.Row, u.Col),
			Values: [][]interface{}{{u.Value}},
		})
	}
	if _, err := d.svc.Spreadsheets.Values.BatchUpdate(d.id, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("sheets: batch update %s/%s: %w", d.title, tab, mapSheetsError(err, ErrTabNotFound))
	}
	return nil
}

func quoteTab(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}

func toStrings(values [][]interface{}) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		cells := make([]string, len(row))
		for j, v := range row {
			if v != nil {
				cells[j] = fmt.Sprint(v)
			}
		}
		out[i] = cells
	}
	return out
}

func toValues(rows [][]string) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		out[i] = cells
	}
	return out
}

// mapSheetsError attaches notFound to 404 responses and to the 400 the API
// returns for an unknown tab name.
func mapSheetsError(err error, notFound error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	switch {
	case gerr.Code == http.StatusNotFound:
		return utils.Permanent(fmt.Errorf("%w: %w", notFound, err))
	case gerr.Code == http.StatusBadRequest && strings.Contains(gerr.Message, "Unable to parse range"):
		return utils.Permanent(fmt.Errorf("%w: %w", ErrTabNotFound, err))
	}
	return err
}
