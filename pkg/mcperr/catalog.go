package mcperr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/vinodismyname/mcpsheets/internal/eval"
	"github.com/vinodismyname/mcpsheets/internal/query"
	"github.com/vinodismyname/mcpsheets/internal/store"
	"github.com/vinodismyname/mcpsheets/pkg/pagination"
)

// Code defines a canonical MCP error code used across tools.
type Code string

const (
	// Validation & Input
	Validation          Code = "VALIDATION"
	InvalidSheet        Code = "INVALID_SHEET"
	InvalidColumn       Code = "INVALID_COLUMN"
	CursorInvalid       Code = "CURSOR_INVALID"
	CursorBuildFailed   Code = "CURSOR_BUILD_FAILED"
	InvalidInitialValue Code = "INVALID_INITIAL_VALUE"

	// User code
	CompileFailed   Code = "COMPILE_FAILED"
	DialectDisabled Code = "DIALECT_DISABLED"

	// Resource & Limits
	BusyResource    Code = "BUSY_RESOURCE"
	Timeout         Code = "TIMEOUT"
	PayloadTooLarge Code = "PAYLOAD_TOO_LARGE"

	// Execution
	QueryFailed  Code = "QUERY_FAILED"
	FilterFailed Code = "FILTER_FAILED"
	ReduceFailed Code = "REDUCE_FAILED"
)

// Entry documents a code's standard message, retry semantics, and next steps.
type Entry struct {
	Code      Code
	Message   string
	Retryable bool
	NextSteps []string
}

// catalog maps canonical codes to guidance. Messages can be overridden per error.
var catalog = map[Code]Entry{
	Validation:          {Code: Validation, Message: "invalid inputs", Retryable: true, NextSteps: []string{"Correct the inputs per schema and retry", "See examples in tool description"}},
	InvalidSheet:        {Code: InvalidSheet, Message: "sheet not found", Retryable: true, NextSteps: []string{"Call list_sheets to verify sheet names", "Names are case-sensitive"}},
	InvalidColumn:       {Code: InvalidColumn, Message: "column not found", Retryable: true, NextSteps: []string{"Call get_schema to verify column names", "Column names are exact header text"}},
	CursorInvalid:       {Code: CursorInvalid, Message: "cursor is invalid for current context", Retryable: true, NextSteps: []string{"Restart pagination from the first page", "Reuse the same sheet and filter arguments with a cursor"}},
	CursorBuildFailed:   {Code: CursorBuildFailed, Message: "failed to encode next page cursor", Retryable: true, NextSteps: []string{"Retry or lower the limit"}},
	InvalidInitialValue: {Code: InvalidInitialValue, Message: "initialValue is not valid JSON", Retryable: true, NextSteps: []string{"Pass a JSON literal such as {\"total\":0}, 0, or []"}},

	CompileFailed:   {Code: CompileFailed, Message: "expression failed to compile", Retryable: true, NextSteps: []string{"Fix the syntax and retry", "Filters are expressions; reducers are function bodies with an explicit return"}},
	DialectDisabled: {Code: DialectDisabled, Message: "expression language is disabled", Retryable: true, NextSteps: []string{"Retry with language=cel"}},

	BusyResource:    {Code: BusyResource, Message: "concurrent request limit reached", Retryable: true, NextSteps: []string{"Retry after a short delay"}},
	Timeout:         {Code: Timeout, Message: "operation exceeded configured time limit", Retryable: true, NextSteps: []string{"Simplify the expression", "Avoid unbounded loops in reducers"}},
	PayloadTooLarge: {Code: PayloadTooLarge, Message: "payload exceeds configured size", Retryable: true, NextSteps: []string{"Lower the limit or narrow the filter"}},

	QueryFailed:  {Code: QueryFailed, Message: "query failed", Retryable: true, NextSteps: []string{"Retry; verify sheet and arguments"}},
	FilterFailed: {Code: FilterFailed, Message: "filter execution failed", Retryable: true, NextSteps: []string{"Simplify the filter expression"}},
	ReduceFailed: {Code: ReduceFailed, Message: "reduce execution failed", Retryable: true, NextSteps: []string{"Simplify the reducer or initial value"}},
}

// Lookup returns the catalog entry for a code.
func Lookup(code Code) (Entry, bool) {
	e, ok := catalog[code]
	return e, ok
}

// normalize builds a standard error string including next steps for MCP clients that
// surface only a message string. Format: "CODE: message" followed by a guidance tail.
func normalize(code Code, msg string) string {
	base := strings.TrimSpace(msg)
	e, ok := catalog[code]
	if !ok {
		// Unknown code; preserve as-is
		if base == "" {
			return string(code)
		}
		return fmt.Sprintf("%s: %s", string(code), base)
	}
	if base == "" {
		base = e.Message
	}
	// Append compact nextSteps guidance inline to aid clients lacking structured fields.
	guidance := ""
	if len(e.NextSteps) > 0 {
		guidance = " | nextSteps: " + strings.Join(e.NextSteps, "; ")
	}
	return fmt.Sprintf("%s: %s%s", e.Code, base, guidance)
}

// FromText parses a "CODE: message" string, enriches it with catalog guidance,
// and returns an MCP tool error result.
func FromText(text string) *mcp.CallToolResult {
	t := strings.TrimSpace(text)
	if t == "" {
		return mcp.NewToolResultError(normalize(Validation, ""))
	}
	parts := strings.SplitN(t, ":", 2)
	code := Code(strings.TrimSpace(parts[0]))
	msg := ""
	if len(parts) > 1 {
		msg = strings.TrimSpace(parts[1])
	}
	return mcp.NewToolResultError(normalize(code, msg))
}

// New returns an MCP error result for a given code and optional message override.
func New(code Code, message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(normalize(code, message))
}

// Wrapf formats details and returns an MCP error result for the code.
func Wrapf(code Code, format string, args ...any) *mcp.CallToolResult {
	return mcp.NewToolResultError(normalize(code, fmt.Sprintf(format, args...)))
}

// Classify maps an engine error to its canonical code. fallback is used for
// errors outside the known taxonomy.
func Classify(err error, fallback Code) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, store.ErrSheetNotFound):
		return InvalidSheet
	case errors.Is(err, query.ErrColumnNotFound):
		return InvalidColumn
	case errors.Is(err, eval.ErrCompile):
		return CompileFailed
	case errors.Is(err, eval.ErrInitialValue):
		return InvalidInitialValue
	case errors.Is(err, eval.ErrDialectDisabled), errors.Is(err, eval.ErrUnknownDialect):
		return DialectDisabled
	case errors.Is(err, eval.ErrEvalTimeout), errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, pagination.ErrCursorMismatch):
		return CursorInvalid
	case errors.Is(err, query.ErrInvalidCursor):
		return CursorInvalid
	case errors.Is(err, query.ErrBusy):
		return BusyResource
	}
	return fallback
}

// FromError returns the tool error result for err, classified via Classify.
func FromError(err error, fallback Code) *mcp.CallToolResult {
	return New(Classify(err, fallback), err.Error())
}
