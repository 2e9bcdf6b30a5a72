package models

import "strings"

// Header indexes a table's header row by column name.
type Header struct {
	names  []string
	exact  map[string]int
	folded map[string]int
}

// NewHeader builds an index over row. Names are trimmed; the first
// occurrence of a repeated name wins.
func NewHeader(row []string) Header {
	h := Header{
		names:  make([]string, len(row)),
		exact:  make(map[string]int, len(row)),
		folded: make(map[string]int, len(row)),
	}
	for i, name := range row {
		name = strings.TrimSpace(name)
		h.names[i] = name
		if name == "" {
			continue
		}
		if _, ok := h.exact[name]; !ok {
			h.exact[name] = i
		}
		key := strings.ToLower(name)
		if _, ok := h.folded[key]; !ok {
			h.folded[key] = i
		}
	}
	return h
}

// Index returns the position of the first of names found, matching exactly
// first and case-insensitively second.
func (h Header) Index(names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := h.exact[n]; ok {
			return i, true
		}
	}
	for _, n := range names {
		if i, ok := h.folded[strings.ToLower(n)]; ok {
			return i, true
		}
	}
	return -1, false
}

// Has reports whether any of names is a column.
func (h Header) Has(names ...string) bool {
	_, ok := h.Index(names...)
	return ok
}

// Value returns the trimmed cell of row under the first matching column, or
// "" when the column is absent or the row is short.
func (h Header) Value(row []string, names ...string) string {
	i, ok := h.Index(names...)
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// Raw is Value without trimming.
func (h Header) Raw(row []string, names ...string) string {
	i, ok := h.Index(names...)
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// Len is the number of header cells.
func (h Header) Len() int {
	return len(h.names)
}
