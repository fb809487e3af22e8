package query

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/vinodismyname/mcpsheets/internal/store"
)

const (
	msgSheetEmpty  = "sheet is empty"
	msgNoValidRows = "no valid data rows"
)

// GetLastRow scans from the end for the first row whose identifier column
// holds a number, or a numeric string that is not a formula. idColumn
// defaults to the first header column.
func (e *Engine) GetLastRow(ctx context.Context, sheet, idColumn string) (LastRowResult, error) {
	s, err := e.wb.Sheet(sheet)
	if err != nil {
		return LastRowResult{}, err
	}
	id := idColumn
	if id == "" {
		if keys := s.Keys(); len(keys) > 0 {
			id = keys[0]
		}
	} else if !slices.Contains(s.Keys(), id) && !s.HasColumn(id) {
		return LastRowResult{}, fmt.Errorf("%w: %q", ErrColumnNotFound, id)
	}

	out := LastRowResult{Sheet: sheet, IDColumn: id}
	rows := s.Rows()
	if len(rows) == 0 {
		out.Message = msgSheetEmpty
		return out, nil
	}
	for i := len(rows) - 1; i >= 0; i-- {
		v, ok := rows[i].Get(id)
		if !ok || !cleanNumber(v) {
			continue
		}
		r, idx := rows[i], i
		out.Found, out.Row, out.RowIndex = true, &r, &idx
		return out, nil
	}
	out.Message = msgNoValidRows
	return out, nil
}

func cleanNumber(v store.Value) bool {
	if f, ok := v.Float(); ok {
		return !math.IsNaN(f)
	}
	s, ok := v.Str()
	if !ok {
		return false
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "=") {
		return false
	}
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
}
