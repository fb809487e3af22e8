// Package workbook loads an Excel file into an immutable store.Workbook.
package workbook

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/vinodismyname/mcpsheets/config"
	"github.com/vinodismyname/mcpsheets/internal/store"
	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"
)

// PathValidator returns a canonical path when the workbook may be opened.
type PathValidator interface {
	ValidateWorkbookPath(path string) (string, error)
}

// Loader opens workbook files and converts every sheet into the row store.
type Loader struct {
	validator   PathValidator
	parallelism int
}

// NewLoader returns a Loader. A nil validator skips path checks; parallelism
// <= 0 uses config.DefaultLoadParallelism.
func NewLoader(validator PathValidator, parallelism int) *Loader {
	if parallelism <= 0 {
		parallelism = config.DefaultLoadParallelism
	}
	return &Loader{validator: validator, parallelism: parallelism}
}

// Load validates path, reads the file, and returns its sheets in file order.
func (l *Loader) Load(ctx context.Context, path string) (*store.Workbook, error) {
	if l.validator != nil {
		canonical, err := l.validator.ValidateWorkbookPath(path)
		if err != nil {
			return nil, err
		}
		path = canonical
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("workbook: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	wb, err := l.Convert(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("workbook: load %s: %w", path, err)
	}
	zerolog.Ctx(ctx).Info().
		Str("path", path).
		Str("workbook_id", wb.ID()).
		Int("sheets", len(wb.SheetNames())).
		Msg("workbook loaded")
	return wb, nil
}

// Convert reads every sheet of an open file.
func (l *Loader) Convert(ctx context.Context, f *excelize.File) (*store.Workbook, error) {
	names := f.GetSheetList()
	sheets := make([]*store.Sheet, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.parallelism)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			grid, err := readGrid(f, name)
			if err != nil {
				return fmt.Errorf("sheet %q: %w", name, err)
			}
			sheets[i] = store.NewSheet(name, grid)
			zerolog.Ctx(ctx).Debug().Str("sheet", name).Int("rows", sheets[i].Len()).Msg("sheet converted")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return store.NewWorkbook(sheets...)
}

// readGrid returns the typed cells of a sheet. The header row is padded to
// the sheet's used column range.
func readGrid(f *excelize.File, sheet string) ([][]store.Cell, error) {
	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	styles := &dateStyles{f: f, cache: map[int]bool{}}
	grid := make([][]store.Cell, len(raw))
	for r, row := range raw {
		grid[r] = make([]store.Cell, len(row))
		for c, v := range row {
			if v == "" {
				grid[r][c] = store.Cell{Type: store.CellBlank}
				continue
			}
			ref, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, err
			}
			ct, err := f.GetCellType(sheet, ref)
			if err != nil {
				return nil, err
			}
			grid[r][c] = toCell(ct, v, styles.isDate(sheet, ref))
		}
	}
	if len(grid) > 0 {
		if w := usedWidth(f, sheet); w > len(grid[0]) {
			pad := make([]store.Cell, w-len(grid[0]))
			for i := range pad {
				pad[i] = store.Cell{Type: store.CellBlank}
			}
			grid[0] = append(grid[0], pad...)
		}
	}
	return grid, nil
}

// toCell types a raw cell value. Untyped cells are numbers when they parse.
func toCell(ct excelize.CellType, raw string, dateStyled bool) store.Cell {
	switch ct {
	case excelize.CellTypeBool:
		return store.Cell{Type: store.CellBoolean, Value: store.Bool(raw == "1" || strings.EqualFold(raw, "true"))}
	case excelize.CellTypeError:
		return store.Cell{Type: store.CellError, Value: store.Text(raw)}
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeFormula:
		return store.Cell{Type: store.CellString, Value: store.Text(raw)}
	case excelize.CellTypeDate:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return store.Cell{Type: store.CellDate, Value: store.Number(f)}
		}
		return store.Cell{Type: store.CellDate, Value: store.Text(raw)}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return store.Cell{Type: store.CellString, Value: store.Text(raw)}
	}
	if dateStyled {
		return store.Cell{Type: store.CellDate, Value: store.Number(f)}
	}
	return store.Cell{Type: store.CellNumber, Value: store.Number(f)}
}

// usedWidth returns the column count of the sheet dimension, or 0 if unknown.
func usedWidth(f *excelize.File, sheet string) int {
	dim, err := f.GetSheetDimension(sheet)
	if err != nil || dim == "" {
		return 0
	}
	last := dim
	if i := strings.LastIndex(dim, ":"); i >= 0 {
		last = dim[i+1:]
	}
	col, _, err := excelize.CellNameToCoordinates(last)
	if err != nil {
		return 0
	}
	return col
}

// dateStyles caches whether a style index formats numbers as dates.
type dateStyles struct {
	f     *excelize.File
	mu    sync.Mutex
	cache map[int]bool
}

func (d *dateStyles) isDate(sheet, ref string) bool {
	idx, err := d.f.GetCellStyle(sheet, ref)
	if err != nil || idx == 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if v, ok := d.cache[idx]; ok {
		return v
	}
	st, err := d.f.GetStyle(idx)
	v := err == nil && st != nil && isDateFormat(st.NumFmt, st.CustomNumFmt)
	d.cache[idx] = v
	return v
}

// isDateFormat reports whether a built-in or custom number format renders dates.
func isDateFormat(id int, custom *string) bool {
	switch {
	case id >= 14 && id <= 22, id >= 27 && id <= 36, id >= 45 && id <= 47, id >= 50 && id <= 58:
		return true
	}
	if custom == nil {
		return false
	}
	code := strings.ToLower(*custom)
	// drop quoted literals and escapes before looking for date tokens
	var b strings.Builder
	quoted := false
	for i := 0; i < len(code); i++ {
		switch ch := code[i]; {
		case ch == '"':
			quoted = !quoted
		case quoted:
		case ch == '\\' && i+1 < len(code):
			i++
		case ch == '[':
			if j := strings.IndexByte(code[i:], ']'); j > 0 {
				i += j
			}
		default:
			b.WriteByte(ch)
		}
	}
	s := b.String()
	return strings.ContainsAny(s, "yd") || strings.Contains(s, "mm") || strings.Contains(s, "hh")
}
