// Package query implements the read-only operations served over a loaded
// workbook: listing, schema inference, paging, filtering, last-row detection,
// distinct values, and group-by reduction.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vinodismyname/mcpsheets/config"
	"github.com/vinodismyname/mcpsheets/internal/eval"
	"github.com/vinodismyname/mcpsheets/internal/store"
	"github.com/vinodismyname/mcpsheets/pkg/pagination"
)

var (
	ErrColumnNotFound = errors.New("query: column not found")
	ErrInvalidCursor  = errors.New("query: invalid cursor")
	ErrBusy           = errors.New("query: evaluation capacity exhausted")
	ErrNoWorkbook     = errors.New("query: workbook is required")
)

// Gate bounds concurrent expression evaluations.
type Gate interface {
	AcquireEvaluation(ctx context.Context) error
	ReleaseEvaluation()
}

// Observer receives one record per evaluated operation.
type Observer interface {
	ObserveEvaluation(op string, language eval.Dialect, rows, failures int, elapsed time.Duration)
}

// Options configures an Engine.
type Options struct {
	DefaultLanguage   eval.Dialect
	AllowedLanguages  []eval.Dialect
	EvaluationTimeout time.Duration
	Gate              Gate
	Observer          Observer
}

// Engine answers queries against one immutable workbook. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	wb       *store.Workbook
	compiler *eval.Compiler
	timeout  time.Duration
	gate     Gate
	obs      Observer
}

// New returns an Engine bound to wb.
func New(wb *store.Workbook, opts Options) (*Engine, error) {
	if wb == nil {
		return nil, ErrNoWorkbook
	}
	if opts.EvaluationTimeout <= 0 {
		opts.EvaluationTimeout = config.DefaultEvaluationTimeout
	}
	return &Engine{
		wb:       wb,
		compiler: eval.NewCompiler(eval.Options{Default: opts.DefaultLanguage, Allowed: opts.AllowedLanguages}),
		timeout:  opts.EvaluationTimeout,
		gate:     opts.Gate,
		obs:      opts.Observer,
	}, nil
}

// Workbook returns the workbook the engine reads.
func (e *Engine) Workbook() *store.Workbook { return e.wb }

// DefaultLanguage reports the expression language used when a request names none.
func (e *Engine) DefaultLanguage() eval.Dialect { return e.compiler.Default() }

// ListSheets returns sheet names in workbook order.
func (e *Engine) ListSheets() SheetList {
	names := e.wb.SheetNames()
	return SheetList{Sheets: names, Count: len(names)}
}

// GetSchema infers the column schema of a sheet.
func (e *Engine) GetSchema(ctx context.Context, sheet string) (SchemaResult, error) {
	s, err := e.wb.Sheet(sheet)
	if err != nil {
		return SchemaResult{}, err
	}
	cols := InferSchema(s)
	zerolog.Ctx(ctx).Debug().Str("sheet", sheet).Int("columns", len(cols)).Msg("schema inferred")
	return SchemaResult{Sheet: sheet, Columns: cols}, nil
}

// QuerySheet returns up to Limit rows in source order, continuing from Cursor when set.
func (e *Engine) QuerySheet(ctx context.Context, req RowsRequest) (RowsResult, error) {
	s, err := e.wb.Sheet(req.Sheet)
	if err != nil {
		return RowsResult{}, err
	}
	offset, size, err := e.resume(req.Cursor, req.Sheet, pagination.OpRows, "", req.Limit)
	if err != nil {
		return RowsResult{}, err
	}
	page := pagination.Window(s.Rows(), offset, size)
	next, err := e.nextCursor(page, req.Sheet, pagination.OpRows, "", size)
	if err != nil {
		return RowsResult{}, err
	}
	zerolog.Ctx(ctx).Debug().Str("sheet", req.Sheet).Int("offset", offset).Int("returned", page.Returned).Msg("rows served")
	return RowsResult{
		Sheet:        req.Sheet,
		Rows:         page.Items,
		TotalRows:    page.Total,
		Returned:     page.Returned,
		LimitApplied: page.LimitApplied,
		NextCursor:   next,
	}, nil
}

// GetRowCount counts the data rows of a sheet.
func (e *Engine) GetRowCount(ctx context.Context, sheet string) (RowCountResult, error) {
	s, err := e.wb.Sheet(sheet)
	if err != nil {
		return RowCountResult{}, err
	}
	return RowCountResult{Sheet: sheet, RowCount: s.Len()}, nil
}

// resume returns the offset and page size for a listing request.
func (e *Engine) resume(token, sheet string, op pagination.Op, ph string, limit int) (int, int, error) {
	if token == "" {
		return 0, pagination.Clamp(limit), nil
	}
	c, err := pagination.DecodeCursor(token)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if err := c.Check(e.wb.ID(), sheet, op, ph); err != nil {
		return 0, 0, err
	}
	size := c.Ps
	if limit > 0 {
		size = pagination.Clamp(limit)
	}
	return c.Off, size, nil
}

func (e *Engine) nextCursor(page pagination.Page[store.Row], sheet string, op pagination.Op, ph string, size int) (string, error) {
	if !page.LimitApplied {
		return "", nil
	}
	return pagination.EncodeCursor(pagination.Cursor{
		Wid: e.wb.ID(),
		S:   sheet,
		Op:  op,
		Off: page.Next(),
		Ps:  size,
		Ph:  ph,
	})
}

// evaluate runs fn within the evaluation budget while holding an evaluation slot.
func (e *Engine) evaluate(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.gate != nil {
		if err := e.gate.AcquireEvaluation(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrBusy, err)
		}
		defer e.gate.ReleaseEvaluation()
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return fn(ctx)
}

func (e *Engine) observe(op string, d eval.Dialect, rows, failures int, start time.Time) {
	if e.obs == nil {
		return
	}
	e.obs.ObserveEvaluation(op, d, rows, failures, time.Since(start))
}
