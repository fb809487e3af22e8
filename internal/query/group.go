package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vinodismyname/mcpsheets/internal/eval"
	"github.com/vinodismyname/mcpsheets/internal/store"
	"github.com/vinodismyname/mcpsheets/pkg/pagination"
)

// ReduceColumn partitions the sheet's rows by GroupColumn and folds each
// partition through ReduceCode, starting every group from its own copy of
// InitialValue.
func (e *Engine) ReduceColumn(ctx context.Context, req ReduceRequest) (GroupResult, error) {
	s, err := e.wb.Sheet(req.Sheet)
	if err != nil {
		return GroupResult{}, err
	}
	if !s.HasColumn(req.GroupColumn) {
		return GroupResult{}, fmt.Errorf("%w: %q", ErrColumnNotFound, req.GroupColumn)
	}
	lang, err := e.compiler.Resolve(req.Language)
	if err != nil {
		return GroupResult{}, err
	}

	rows := s.Rows()
	var (
		groups   []Group
		failures int
	)
	start := time.Now()
	err = e.evaluate(ctx, func(ctx context.Context) error {
		red, err := e.compiler.CompileReducer(ctx, string(lang), req.ReduceCode, req.InitialValue)
		if err != nil {
			return err
		}
		defer func() { failures = red.Failures() }()
		groups, err = GroupByReduce(ctx, rows, req.GroupColumn, red)
		return err
	})
	e.observe("reduce_column", lang, len(rows), failures, start)
	if err != nil {
		return GroupResult{}, err
	}

	page := pagination.Limit(groups, pagination.MaxResults)
	zerolog.Ctx(ctx).Debug().
		Str("sheet", req.Sheet).
		Str("group_column", req.GroupColumn).
		Int("groups", page.Total).
		Int("evaluation_errors", failures).
		Msg("groups reduced")
	return GroupResult{
		Sheet:            req.Sheet,
		GroupColumn:      req.GroupColumn,
		Groups:           page.Items,
		TotalGroups:      page.Total,
		Returned:         page.Returned,
		LimitApplied:     page.LimitApplied,
		Language:         string(lang),
		EvaluationErrors: failures,
	}, nil
}

// GroupByReduce folds rows into groups keyed by the trimmed string form of
// column. Rows without the column are skipped. Groups keep first-seen order
// and rows are applied in input order.
func GroupByReduce(ctx context.Context, rows []store.Row, column string, red eval.Reducer) ([]Group, error) {
	var (
		order  []string
		states = map[string]eval.State{}
	)
	for _, r := range rows {
		v, ok := r.Get(column)
		if !ok {
			continue
		}
		key := strings.TrimSpace(v.String())
		state, seen := states[key]
		if !seen {
			init, err := red.Init(ctx)
			if err != nil {
				return nil, err
			}
			state = init
			order = append(order, key)
		}
		next, err := red.Apply(ctx, state, r)
		if err != nil {
			return nil, err
		}
		states[key] = next
	}

	groups := make([]Group, 0, len(order))
	for _, key := range order {
		raw, err := red.Result(ctx, states[key])
		if err != nil {
			return nil, err
		}
		groups = append(groups, Group{GroupKey: key, Result: raw})
	}
	return groups, nil
}
