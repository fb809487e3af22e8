package registry

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/vinodismyname/mcpsheets/internal/query"
	"github.com/vinodismyname/mcpsheets/internal/runtime"
	"github.com/vinodismyname/mcpsheets/pkg/mcperr"
	"github.com/vinodismyname/mcpsheets/pkg/validation"
)

// Tool names.
const (
	ToolListSheets        = "list_sheets"
	ToolGetSchema         = "get_schema"
	ToolQuerySheet        = "query_sheet"
	ToolCustomFilterSheet = "custom_filter_sheet"
	ToolGetLastRow        = "get_last_row"
	ToolGetRowCount       = "get_row_count"
	ToolGetDistinctValues = "get_distinct_values"
	ToolReduceColumn      = "reduce_column"
)

// --- Input Schemas (typed for binding and validation) ---

// ListSheetsInput takes no parameters.
type ListSheetsInput struct{}

// SheetInput names a sheet.
type SheetInput struct {
	Sheet string `json:"sheet" validate:"required" jsonschema_description:"Exact, case-sensitive sheet name"`
}

// QuerySheetInput defines parameters for reading rows.
type QuerySheetInput struct {
	Sheet  string `json:"sheet" validate:"required" jsonschema_description:"Exact, case-sensitive sheet name"`
	Limit  int    `json:"limit,omitempty" validate:"gte=0" jsonschema_description:"Max rows to return (capped at 50)"`
	Cursor string `json:"cursor,omitempty" validate:"omitempty,cursor" jsonschema_description:"nextCursor from a previous call"`
}

// CustomFilterInput defines parameters for predicate filtering.
type CustomFilterInput struct {
	Sheet      string `json:"sheet" validate:"required" jsonschema_description:"Exact, case-sensitive sheet name"`
	FilterCode string `json:"filterCode" validate:"required" jsonschema_description:"Boolean expression over row and dateHelper"`
	SumColumn  string `json:"sumColumn,omitempty" jsonschema_description:"Column to total across all matches"`
	Limit      int    `json:"limit,omitempty" validate:"gte=0" jsonschema_description:"Max rows to return (capped at 50)"`
	Language   string `json:"language,omitempty" validate:"omitempty,dialect" jsonschema_description:"javascript or cel"`
	Cursor     string `json:"cursor,omitempty" validate:"omitempty,cursor" jsonschema_description:"nextCursor from a previous call with the same filter"`
}

// LastRowInput defines parameters for last-row detection.
type LastRowInput struct {
	Sheet    string `json:"sheet" validate:"required" jsonschema_description:"Exact, case-sensitive sheet name"`
	IDColumn string `json:"idColumn,omitempty" jsonschema_description:"Identifier column; defaults to the first header column"`
}

// DistinctInput defines parameters for distinct values.
type DistinctInput struct {
	Sheet  string `json:"sheet" validate:"required" jsonschema_description:"Exact, case-sensitive sheet name"`
	Column string `json:"column" validate:"required" jsonschema_description:"Column to read"`
}

// ReduceInput defines parameters for group-by reduction.
type ReduceInput struct {
	Sheet        string `json:"sheet" validate:"required" jsonschema_description:"Exact, case-sensitive sheet name"`
	GroupColumn  string `json:"groupColumn" validate:"required" jsonschema_description:"Column whose trimmed value keys each group"`
	ReduceCode   string `json:"reduceCode" validate:"required" jsonschema_description:"Reducer over accumulator and row"`
	InitialValue string `json:"initialValue" validate:"required,jsonvalue" jsonschema_description:"JSON text copied fresh into every group"`
	Language     string `json:"language,omitempty" validate:"omitempty,dialect" jsonschema_description:"javascript or cel"`
}

// queryTools binds tool handlers to an engine.
type queryTools struct {
	eng           *query.Engine
	scriptsHidden bool
}

// RegisterQueryTools defines the sheet query tools and their handlers.
func RegisterQueryTools(s *server.MCPServer, reg *Registry, eng *query.Engine, limits runtime.Limits, filter *ScriptToolFilter) {
	h := &queryTools{eng: eng, scriptsHidden: filter != nil && filter.Disabled()}
	capHint := fmt.Sprintf("Results are capped at %d items; limitApplied reports truncation.", limits.ResultCap)
	langs := fmt.Sprintf("Language defaults to %s.", eng.DefaultLanguage())

	add := func(tool mcp.Tool, handler server.ToolHandlerFunc) {
		s.AddTool(tool, handler)
		reg.Register(tool)
	}

	add(mcp.NewTool(ToolListSheets,
		mcp.WithDescription("List sheet names in workbook order"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOutputSchema[query.SheetList](),
	), mcp.NewTypedToolHandler(h.listSheets))

	add(mcp.NewTool(ToolGetSchema,
		mcp.WithDescription("Infer column names and types from the header row and the first data row"),
		mcp.WithString("sheet", mcp.Required(), mcp.Description("Sheet name")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOutputSchema[query.SchemaResult](),
	), mcp.NewTypedToolHandler(h.getSchema))

	add(mcp.NewTool(ToolQuerySheet,
		mcp.WithDescription("Return rows of a sheet in source order. "+capHint),
		mcp.WithString("sheet", mcp.Required(), mcp.Description("Sheet name")),
		mcp.WithNumber("limit", mcp.Min(0), mcp.Max(float64(limits.ResultCap)), mcp.Description("Max rows to return")),
		mcp.WithString("cursor", mcp.Description("nextCursor from a previous call")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOutputSchema[query.RowsResult](),
	), mcp.NewTypedToolHandler(h.querySheet))

	add(mcp.NewTool(ToolCustomFilterSheet,
		mcp.WithDescription("Filter rows with a predicate expression, e.g. row.amount > 100. count and sum cover all matches. "+capHint+" "+langs),
		mcp.WithString("sheet", mcp.Required(), mcp.Description("Sheet name")),
		mcp.WithString("filterCode", mcp.Required(), mcp.Description("Expression over row and dateHelper(serial)")),
		mcp.WithString("sumColumn", mcp.Description("Column to total across matches")),
		mcp.WithNumber("limit", mcp.Min(0), mcp.Max(float64(limits.ResultCap)), mcp.Description("Max rows to return")),
		mcp.WithString("language", mcp.Enum("javascript", "cel"), mcp.Description("Expression language")),
		mcp.WithString("cursor", mcp.Description("nextCursor from a previous call with the same filter")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOutputSchema[query.FilterResult](),
	), mcp.NewTypedToolHandler(h.customFilterSheet))

	add(mcp.NewTool(ToolGetLastRow,
		mcp.WithDescription("Return the last row whose identifier column is numeric, skipping trailing totals and notes"),
		mcp.WithString("sheet", mcp.Required(), mcp.Description("Sheet name")),
		mcp.WithString("idColumn", mcp.Description("Identifier column; defaults to the first header column")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOutputSchema[query.LastRowResult](),
	), mcp.NewTypedToolHandler(h.getLastRow))

	add(mcp.NewTool(ToolGetRowCount,
		mcp.WithDescription("Count the data rows of a sheet"),
		mcp.WithString("sheet", mcp.Required(), mcp.Description("Sheet name")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOutputSchema[query.RowCountResult](),
	), mcp.NewTypedToolHandler(h.getRowCount))

	add(mcp.NewTool(ToolGetDistinctValues,
		mcp.WithDescription("Return sorted distinct non-empty values of a column. "+capHint),
		mcp.WithString("sheet", mcp.Required(), mcp.Description("Sheet name")),
		mcp.WithString("column", mcp.Required(), mcp.Description("Column name")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOutputSchema[query.DistinctResult](),
	), mcp.NewTypedToolHandler(h.getDistinctValues))

	add(mcp.NewTool(ToolReduceColumn,
		mcp.WithDescription("Group rows by a column and fold each group with a reducer. JavaScript reducers are function bodies with an explicit return, e.g. accumulator.total += row.v; return accumulator; "+capHint+" "+langs),
		mcp.WithString("sheet", mcp.Required(), mcp.Description("Sheet name")),
		mcp.WithString("groupColumn", mcp.Required(), mcp.Description("Grouping column")),
		mcp.WithString("reduceCode", mcp.Required(), mcp.Description("Reducer over accumulator, row, and dateHelper(serial)")),
		mcp.WithString("initialValue", mcp.Required(), mcp.Description(`JSON initial accumulator, e.g. {"total":0}`)),
		mcp.WithString("language", mcp.Enum("javascript", "cel"), mcp.Description("Expression language")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOutputSchema[query.GroupResult](),
	), mcp.NewTypedToolHandler(h.reduceColumn))
}

func (h *queryTools) listSheets(ctx context.Context, req mcp.CallToolRequest, in ListSheetsInput) (*mcp.CallToolResult, error) {
	out := h.eng.ListSheets()
	return structured(out, fmt.Sprintf("%d sheets", out.Count))
}

func (h *queryTools) getSchema(ctx context.Context, req mcp.CallToolRequest, in SheetInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	out, err := h.eng.GetSchema(ctx, in.Sheet)
	if err != nil {
		return mcperr.FromError(err, mcperr.QueryFailed), nil
	}
	return structured(out, fmt.Sprintf("%d columns in %s", len(out.Columns), out.Sheet))
}

func (h *queryTools) querySheet(ctx context.Context, req mcp.CallToolRequest, in QuerySheetInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	out, err := h.eng.QuerySheet(ctx, query.RowsRequest{Sheet: in.Sheet, Limit: in.Limit, Cursor: in.Cursor})
	if err != nil {
		return mcperr.FromError(err, mcperr.QueryFailed), nil
	}
	return structured(out, fmt.Sprintf("%d of %d rows from %s (limitApplied=%t)", out.Returned, out.TotalRows, out.Sheet, out.LimitApplied))
}

func (h *queryTools) customFilterSheet(ctx context.Context, req mcp.CallToolRequest, in CustomFilterInput) (*mcp.CallToolResult, error) {
	if h.scriptsHidden {
		return mcperr.New(mcperr.DialectDisabled, "script tools are disabled on this server"), nil
	}
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	out, err := h.eng.CustomFilterSheet(ctx, query.FilterRequest{
		Sheet:      in.Sheet,
		FilterCode: in.FilterCode,
		SumColumn:  in.SumColumn,
		Limit:      in.Limit,
		Language:   in.Language,
		Cursor:     in.Cursor,
	})
	if err != nil {
		return mcperr.FromError(err, mcperr.FilterFailed), nil
	}
	summary := fmt.Sprintf("%d matching rows in %s, %d returned", out.Count, out.Sheet, out.Returned)
	if out.Sum != nil {
		summary += fmt.Sprintf(", sum(%s)=%v", out.SumColumn, *out.Sum)
	}
	return structured(out, summary)
}

func (h *queryTools) getLastRow(ctx context.Context, req mcp.CallToolRequest, in LastRowInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	out, err := h.eng.GetLastRow(ctx, in.Sheet, in.IDColumn)
	if err != nil {
		return mcperr.FromError(err, mcperr.QueryFailed), nil
	}
	summary := out.Message
	if out.Found {
		summary = fmt.Sprintf("last valid row of %s is data row %d", out.Sheet, *out.RowIndex)
	}
	return structured(out, summary)
}

func (h *queryTools) getRowCount(ctx context.Context, req mcp.CallToolRequest, in SheetInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	out, err := h.eng.GetRowCount(ctx, in.Sheet)
	if err != nil {
		return mcperr.FromError(err, mcperr.QueryFailed), nil
	}
	return structured(out, fmt.Sprintf("%d rows in %s", out.RowCount, out.Sheet))
}

func (h *queryTools) getDistinctValues(ctx context.Context, req mcp.CallToolRequest, in DistinctInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	out, err := h.eng.GetDistinctValues(ctx, in.Sheet, in.Column)
	if err != nil {
		return mcperr.FromError(err, mcperr.QueryFailed), nil
	}
	return structured(out, fmt.Sprintf("%d of %d distinct values in %s.%s", out.Count, out.TotalDistinct, out.Sheet, out.Column))
}

func (h *queryTools) reduceColumn(ctx context.Context, req mcp.CallToolRequest, in ReduceInput) (*mcp.CallToolResult, error) {
	if h.scriptsHidden {
		return mcperr.New(mcperr.DialectDisabled, "script tools are disabled on this server"), nil
	}
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	out, err := h.eng.ReduceColumn(ctx, query.ReduceRequest{
		Sheet:        in.Sheet,
		GroupColumn:  in.GroupColumn,
		ReduceCode:   in.ReduceCode,
		InitialValue: in.InitialValue,
		Language:     in.Language,
	})
	if err != nil {
		return mcperr.FromError(err, mcperr.ReduceFailed), nil
	}
	return structured(out, fmt.Sprintf("%d groups by %s in %s, %d returned", out.TotalGroups, out.GroupColumn, out.Sheet, out.Returned))
}

// structured returns out as structured content with a one-line text summary.
func structured(out any, summary string) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultStructured(out, summary), nil
}
