package query

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/vinodismyname/mcpsheets/pkg/pagination"
)

// GetDistinctValues returns the sorted distinct trimmed string forms of a
// column, skipping missing and empty values. A column that neither the header
// nor any row names is an error; a known column without values is not.
func (e *Engine) GetDistinctValues(ctx context.Context, sheet, column string) (DistinctResult, error) {
	s, err := e.wb.Sheet(sheet)
	if err != nil {
		return DistinctResult{}, err
	}
	if !slices.Contains(s.Keys(), column) && !s.HasColumn(column) {
		return DistinctResult{}, fmt.Errorf("%w: %q", ErrColumnNotFound, column)
	}

	seen := map[string]struct{}{}
	for _, r := range s.Rows() {
		v, ok := r.Get(column)
		if !ok {
			continue
		}
		str := strings.TrimSpace(v.String())
		if str == "" {
			continue
		}
		seen[str] = struct{}{}
	}
	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	slices.Sort(values)

	page := pagination.Limit(values, pagination.MaxResults)
	return DistinctResult{
		Sheet:          sheet,
		Column:         column,
		DistinctValues: page.Items,
		Count:          page.Returned,
		TotalDistinct:  page.Total,
		LimitApplied:   page.LimitApplied,
	}, nil
}
