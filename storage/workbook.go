package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"guide-aggregator/utils"
)

// WorkbookStore opens local .xlsx files. Locators are paths, resolved
// against Root when relative.
type WorkbookStore struct {
	Root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewWorkbookStore creates a store rooted at root.
func NewWorkbookStore(root string) *WorkbookStore {
	return &WorkbookStore{Root: root, locks: make(map[string]*sync.Mutex)}
}

func (s *WorkbookStore) resolve(locator string) string {
	locator = strings.TrimPrefix(strings.TrimSpace(locator), "file://")
	if filepath.IsAbs(locator) || s.Root == "" {
		return locator
	}
	return filepath.Join(s.Root, locator)
}

func (s *WorkbookStore) lockFor(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}

func (s *WorkbookStore) Open(_ context.Context, locator string) (Document, error) {
	path := s.resolve(locator)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, utils.Permanent(fmt.Errorf("workbook %q: %w", path, ErrDocumentNotFound))
		}
		return nil, fmt.Errorf("workbook %q: %w", path, err)
	}
	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &workbookDocument{path: path, locator: locator, title: title, mu: s.lockFor(path)}, nil
}

// workbookDocument opens the file for each call so edits made by hand
// between runs are always seen.
type workbookDocument struct {
	path    string
	locator string
	title   string
	mu      *sync.Mutex
}

func (d *workbookDocument) Title() string   { return d.title }
func (d *workbookDocument) Locator() string { return d.locator }

func (d *workbookDocument) withFile(save bool, fn func(f *excelize.File) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := excelize.OpenFile(d.path)
	if err != nil {
		return fmt.Errorf("workbook: open %s: %w", d.path, err)
	}
	defer f.Close()

	if err := fn(f); err != nil {
		return err
	}
	if save {
		if err := f.Save(); err != nil {
			return fmt.Errorf("workbook: save %s: %w", d.path, err)
		}
	}
	return nil
}

func (d *workbookDocument) requireSheet(f *excelize.File, tab string) error {
	idx, err := f.GetSheetIndex(tab)
	if err != nil || idx < 0 {
		return missingTab(d.title, tab)
	}
	return nil
}

func (d *workbookDocument) Rows(_ context.Context, tab string) ([][]string, error) {
	var rows [][]string
	err := d.withFile(false, func(f *excelize.File) error {
		if err := d.requireSheet(f, tab); err != nil {
			return err
		}
		var err error
		rows, err = f.GetRows(tab)
		if err != nil {
			return fmt.Errorf("workbook: read %s/%s: %w", d.title, tab, err)
		}
		return nil
	})
	return rows, err
}

func (d *workbookDocument) BatchRows(_ context.Context, ranges []string) ([][][]string, error) {
	out := make([][][]string, 0, len(ranges))
	err := d.withFile(false, func(f *excelize.File) error {
		for _, r := range ranges {
			tab, bounds := SplitRange(r)
			if err := d.requireSheet(f, tab); err != nil {
				return err
			}
			rows, err := f.GetRows(tab)
			if err != nil {
				return fmt.Errorf("workbook: read %s/%s: %w", d.title, tab, err)
			}
			out = append(out, bounds.apply(rows))
		}
		return nil
	})
	return out, err
}

func (d *workbookDocument) Clear(_ context.Context, tab string) error {
	return d.withFile(true, func(f *excelize.File) error {
		if err := d.requireSheet(f, tab); err != nil {
			return err
		}
		rows, err := f.GetRows(tab)
		if err != nil {
			return fmt.Errorf("workbook: read %s/%s: %w", d.title, tab, err)
		}
		for i := len(rows); i >= 1; i-- {
			if err := f.RemoveRow(tab, i); err != nil {
				return fmt.Errorf("workbook: clear %s/%s: %w", d.title, tab, err)
			}
		}
		return nil
	})
}

func (d *workbookDocument) Write(_ context.Context, tab string, rows [][]string) error {
	return d.withFile(true, func(f *excelize.File) error {
		if err := d.requireSheet(f, tab); err != nil {
			return err
		}
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				return err
			}
			values := make([]interface{}, len(row))
			for j, v := range row {
				values[j] = v
			}
			if err := f.SetSheetRow(tab, cell, &values); err != nil {
				return fmt.Errorf("workbook: write %s/%s row %d: %w", d.title, tab, i+1, err)
			}
		}
		return nil
	})
}

func (d *workbookDocument) Truncate(_ context.Context, tab string, rows, cols int) error {
	return d.withFile(true, func(f *excelize.File) error {
		if err := d.requireSheet(f, tab); err != nil {
			return err
		}
		current, err := f.GetRows(tab)
		if err != nil {
			return fmt.Errorf("workbook: read %s/%s: %w", d.title, tab, err)
		}
		for i := len(current); i > rows; i-- {
			if err := f.RemoveRow(tab, i); err != nil {
				return fmt.Errorf("workbook: truncate %s/%s: %w", d.title, tab, err)
			}
		}
		width := 0
		for _, r := range current {
			width = max(width, len(r))
		}
		for c := width; c > cols; c-- {
			if err := f.RemoveCol(tab, ColumnName(c)); err != nil {
				return fmt.Errorf("workbook: truncate %s/%s: %w", d.title, tab, err)
			}
		}
		return nil
	})
}

func (d *workbookDocument) UpdateCell(ctx context.Context, tab string, row, col int, value string) error {
	return d.BatchUpdate(ctx, tab, []CellUpdate{{Row: row, Col: col, Value: value}})
}

func (d *workbookDocument) BatchUpdate(_ context.Context, tab string, updates []CellUpdate) error {
	return d.withFile(true, func(f *excelize.File) error {
		if err := d.requireSheet(f, tab); err != nil {
			return err
		}
		for _, u := range updates {
			cell, err := excelize.CoordinatesToCellName(u.Col, u.Row)
			if err != nil {
				return fmt.Errorf("workbook: %s/%s: %w", d.title, tab, err)
			}
			if err := f.SetCellValue(tab, cell, u.Value); err != nil {
				return fmt.Errorf("workbook: set %s!%s: %w", tab, cell, err)
			}
		}
		return nil
	})
}

// CreateWorkbook writes a new .xlsx at path with the given tabs, replacing
// the default sheet.
func CreateWorkbook(path string, tabs map[string][][]string, order []string) error {
	f := excelize.NewFile()
	defer f.Close()

	defaultSheet := f.GetSheetName(0)
	for _, name := range order {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("workbook: add sheet %s: %w", name, err)
		}
		for i, row := range tabs[name] {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				return err
			}
			values := make([]interface{}, len(row))
			for j, v := range row {
				values[j] = v
			}
			if err := f.SetSheetRow(name, cell, &values); err != nil {
				return err
			}
		}
	}
	if len(order) > 0 && defaultSheet != "" && !contains(order, defaultSheet) {
		if err := f.DeleteSheet(defaultSheet); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return f.SaveAs(path)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
