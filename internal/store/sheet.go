package store

import (
	"bytes"
	"encoding/json"
	"slices"
	"strconv"
)

// CellType is the physical kind of a source cell, independent of the scalar
// it carries. Date cells hold their serial number; error cells hold their text.
type CellType string

const (
	CellNumber  CellType = "number"
	CellString  CellType = "string"
	CellBoolean CellType = "boolean"
	CellDate    CellType = "date"
	CellError   CellType = "error"
	CellBlank   CellType = "blank"
)

// Cell is one position of a sheet grid.
type Cell struct {
	Type  CellType
	Value Value
}

// IsBlank reports whether the cell has no value.
func (c Cell) IsBlank() bool { return c.Type == CellBlank || c.Type == "" || c.Value.IsAbsent() }

// Field is one column/value pair of a Row.
type Field struct {
	Name  string
	Value Value
}

// Row is a sparse record: columns without a value are not present at all.
// Field order follows the sheet header.
type Row struct {
	fields []Field
}

// NewRow builds a row from fields; absent values are dropped.
func NewRow(fields ...Field) Row {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if f.Value.IsAbsent() {
			continue
		}
		out = append(out, f)
	}
	return Row{fields: out}
}

// Get returns the value stored under name and whether the row defines it.
func (r Row) Get(name string) (Value, bool) {
	for _, f := range r.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Fields returns a copy of the row's fields in header order.
func (r Row) Fields() []Field { return slices.Clone(r.fields) }

// Len returns the number of defined columns.
func (r Row) Len() int { return len(r.fields) }

// Native returns the row as a map of float64/string/bool values.
func (r Row) Native() map[string]any {
	m := make(map[string]any, len(r.fields))
	for _, f := range r.fields {
		m[f.Name] = f.Value.Native()
	}
	return m
}

// MarshalJSON writes the row as a JSON object in header order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Sheet is a named, read-only table: the physical grid (row 0 is the header
// row) plus the derived data rows in source order.
type Sheet struct {
	name   string
	grid   [][]Cell
	width  int
	header []string
	keys   []string
	rows   []Row
	cols   map[string]struct{} // columns defined by at least one row
}

// NewSheet derives the header and data rows from grid. The grid is retained
// and must not be modified afterwards.
func NewSheet(name string, grid [][]Cell) *Sheet {
	s := &Sheet{name: name, grid: grid, cols: map[string]struct{}{}}
	for _, r := range grid {
		if len(r) > s.width {
			s.width = len(r)
		}
	}
	if len(grid) == 0 {
		return s
	}

	s.header = make([]string, s.width)
	for i := 0; i < s.width; i++ {
		s.header[i] = s.Cell(0, i).Value.String()
	}
	keys := rowKeys(s.header)
	for _, k := range keys {
		if k != "" {
			s.keys = append(s.keys, k)
		}
	}

	for r := 1; r < len(grid); r++ {
		fields := make([]Field, 0, len(grid[r]))
		for c, cell := range grid[r] {
			if cell.IsBlank() || keys[c] == "" {
				continue
			}
			fields = append(fields, Field{Name: keys[c], Value: cell.Value})
			s.cols[keys[c]] = struct{}{}
		}
		if len(fields) == 0 {
			continue
		}
		s.rows = append(s.rows, Row{fields: fields})
	}
	return s
}

// rowKeys maps header positions to row keys. Blank headers are unmapped and a
// repeated name gets _1, _2, ... suffixes in order of appearance.
func rowKeys(header []string) []string {
	keys := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		if h == "" {
			continue
		}
		n := seen[h]
		seen[h] = n + 1
		if n == 0 {
			keys[i] = h
			continue
		}
		keys[i] = h + "_" + strconv.Itoa(n)
	}
	return keys
}

func (s *Sheet) Name() string { return s.name }

// Header returns the header row across the full column range; blank cells are "".
func (s *Sheet) Header() []string { return slices.Clone(s.header) }

// Width is the number of columns in the sheet's address range.
func (s *Sheet) Width() int { return s.width }

// GridHeight is the number of physical rows, header included.
func (s *Sheet) GridHeight() int { return len(s.grid) }

// Cell returns the cell at 0-based grid coordinates, blank when out of range.
func (s *Sheet) Cell(row, col int) Cell {
	if row < 0 || row >= len(s.grid) || col < 0 || col >= len(s.grid[row]) {
		return Cell{Type: CellBlank}
	}
	return s.grid[row][col]
}

// Rows returns the data rows in source order.
func (s *Sheet) Rows() []Row { return slices.Clone(s.rows) }

// Len returns the number of data rows.
func (s *Sheet) Len() int { return len(s.rows) }

// Keys returns the row keys derived from the header, skipping blank headers.
func (s *Sheet) Keys() []string { return slices.Clone(s.keys) }

// HasColumn reports whether any data row defines name.
func (s *Sheet) HasColumn(name string) bool {
	_, ok := s.cols[name]
	return ok
}
