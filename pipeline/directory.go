package pipeline

import (
	"context"
	"fmt"

	"guide-aggregator/models"
	"guide-aggregator/storage"
	"guide-aggregator/utils"
)

// DirectoryColumns names the directory tab's columns.
type DirectoryColumns struct {
	Name     string
	URL      string
	Modified string
}

// DefaultDirectoryColumns are the column names market directories ship with.
func DefaultDirectoryColumns() DirectoryColumns {
	return DirectoryColumns{Name: "Guide name", URL: "URL", Modified: "Last modified"}
}

func (c DirectoryColumns) withDefaults() DirectoryColumns {
	d := DefaultDirectoryColumns()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.URL == "" {
		c.URL = d.URL
	}
	if c.Modified == "" {
		c.Modified = d.Modified
	}
	return c
}

// Directory is a parsed directory tab.
type Directory struct {
	Guides  []models.Guide
	Columns DirectoryColumns
	Header  models.Header
	// Recorded holds the tokens last written back to the modified column.
	Recorded models.Baseline
}

// ParseDirectory reads the guide list from a directory tab. Rows missing a
// name or URL are skipped, and a repeated name keeps its first row; both
// are logged.
func ParseDirectory(rows [][]string, cols DirectoryColumns, logger *utils.Logger) (*Directory, error) {
	cols = cols.withDefaults()
	if len(rows) == 0 {
		return nil, fmt.Errorf("directory is empty")
	}
	header := models.NewHeader(rows[0])
	for _, c := range []string{cols.Name, cols.URL} {
		if !header.Has(c) {
			return nil, fmt.Errorf("directory has no %q column", c)
		}
	}

	dir := &Directory{Columns: cols, Header: header, Recorded: models.Baseline{}}
	seen := utils.NewKeySet()
	for i, row := range rows[1:] {
		sheetRow := i + 2
		name := utils.NormaliseText(header.Value(row, cols.Name))
		url := header.Value(row, cols.URL)
		if name == "" && url == "" {
			continue
		}
		if name == "" || url == "" {
			logger.Warn("directory row %d: missing guide name or URL, skipped", sheetRow)
			continue
		}
		if !seen.Add(name) {
			logger.Warn("directory row %d: duplicate guide %q, keeping the first", sheetRow, name)
			continue
		}
		dir.Guides = append(dir.Guides, models.Guide{Name: name, SourceURL: url, Row: sheetRow})
		if tok := header.Raw(row, cols.Modified); tok != "" {
			dir.Recorded[name] = tok
		}
	}
	return dir, nil
}

// WriteTokens records each guide's token in the modified column, adding the
// column header when the tab lacks it. A single guide is written with one
// cell update, several with one batch.
func (d *Directory) WriteTokens(ctx context.Context, doc storage.Document, tab string, guides []models.Guide, tokens map[string]string) error {
	if len(guides) == 0 {
		return nil
	}
	var updates []storage.CellUpdate
	col, ok := d.Header.Index(d.Columns.Modified)
	if ok {
		col++
	} else {
		col = d.Header.Len() + 1
		updates = append(updates, storage.CellUpdate{Row: 1, Col: col, Value: d.Columns.Modified})
	}
	for _, g := range guides {
		updates = append(updates, storage.CellUpdate{Row: g.Row, Col: col, Value: tokens[g.Name]})
	}

	if len(updates) == 1 {
		u := updates[0]
		return doc.UpdateCell(ctx, tab, u.Row, u.Col, u.Value)
	}
	return doc.BatchUpdate(ctx, tab, updates)
}
