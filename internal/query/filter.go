package query

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/vinodismyname/mcpsheets/internal/store"
	"github.com/vinodismyname/mcpsheets/pkg/pagination"
)

// CustomFilterSheet evaluates FilterCode against every row. When SumColumn is
// set and at least one match defines it, Sum totals its numeric values across
// all matches; other values contribute zero.
func (e *Engine) CustomFilterSheet(ctx context.Context, req FilterRequest) (FilterResult, error) {
	s, err := e.wb.Sheet(req.Sheet)
	if err != nil {
		return FilterResult{}, err
	}
	lang, err := e.compiler.Resolve(req.Language)
	if err != nil {
		return FilterResult{}, err
	}
	ph := pagination.HashPredicate(string(lang), req.FilterCode, req.SumColumn)
	offset, size, err := e.resume(req.Cursor, req.Sheet, pagination.OpFilter, ph, req.Limit)
	if err != nil {
		return FilterResult{}, err
	}

	rows := s.Rows()
	var (
		matches  []store.Row
		failures int
	)
	start := time.Now()
	err = e.evaluate(ctx, func(ctx context.Context) error {
		pred, err := e.compiler.CompilePredicate(ctx, string(lang), req.FilterCode)
		if err != nil {
			return err
		}
		defer func() { failures = pred.Failures() }()
		for _, r := range rows {
			ok, err := pred.Match(ctx, r)
			if err != nil {
				return err
			}
			if ok {
				matches = append(matches, r)
			}
		}
		return nil
	})
	e.observe("custom_filter_sheet", lang, len(rows), failures, start)
	if err != nil {
		return FilterResult{}, err
	}

	page := pagination.Window(matches, offset, size)
	next, err := e.nextCursor(page, req.Sheet, pagination.OpFilter, ph, size)
	if err != nil {
		return FilterResult{}, err
	}
	out := FilterResult{
		Sheet:            req.Sheet,
		MatchingRows:     page.Items,
		Count:            page.Total,
		Returned:         page.Returned,
		LimitApplied:     page.LimitApplied,
		Language:         string(lang),
		EvaluationErrors: failures,
		NextCursor:       next,
	}
	if req.SumColumn != "" {
		if sum, ok := sumColumn(matches, req.SumColumn); ok {
			out.Sum = &sum
			out.SumColumn = req.SumColumn
		}
	}
	zerolog.Ctx(ctx).Debug().
		Str("sheet", req.Sheet).
		Str("language", string(lang)).
		Int("matches", out.Count).
		Int("evaluation_errors", failures).
		Msg("filter evaluated")
	return out, nil
}

func sumColumn(rows []store.Row, col string) (float64, bool) {
	var (
		sum     float64
		defined bool
	)
	for _, r := range rows {
		v, ok := r.Get(col)
		if !ok {
			continue
		}
		defined = true
		if f, ok := v.Float(); ok {
			sum += f
		}
	}
	return sum, defined
}

