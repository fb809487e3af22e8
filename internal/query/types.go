package query

import "github.com/vinodismyname/mcpsheets/internal/store"

// Column data types reported by schema inference.
const (
	TypeNumber  = "number"
	TypeString  = "string"
	TypeBoolean = "boolean"
	TypeUnknown = "unknown"
)

// ColumnSchema describes one header position.
type ColumnSchema struct {
	ColumnName string `json:"column_name" jsonschema_description:"Header text; empty for a blank header cell"`
	DataType   string `json:"data_type" jsonschema_description:"number, string, boolean, or unknown (sampled from the first data row)"`
}

// SheetList lists sheet names in workbook order.
type SheetList struct {
	Sheets []string `json:"sheets"`
	Count  int      `json:"count"`
}

// SchemaResult is the inferred schema of a sheet.
type SchemaResult struct {
	Sheet   string         `json:"sheet"`
	Columns []ColumnSchema `json:"columns"`
}

// RowsRequest selects a page of rows.
type RowsRequest struct {
	Sheet  string
	Limit  int
	Cursor string
}

// RowsResult is a bounded page of rows in source order.
type RowsResult struct {
	Sheet        string      `json:"sheet"`
	Rows         []store.Row `json:"rows"`
	TotalRows    int         `json:"totalRows"`
	Returned     int         `json:"returned"`
	LimitApplied bool        `json:"limitApplied"`
	NextCursor   string      `json:"nextCursor,omitempty"`
}

// FilterRequest runs a predicate over every row of a sheet.
type FilterRequest struct {
	Sheet      string
	FilterCode string
	SumColumn  string
	Limit      int
	Language   string
	Cursor     string
}

// FilterResult holds the matches of a predicate. Count and Sum cover every
// match, not only the returned page.
type FilterResult struct {
	Sheet            string      `json:"sheet"`
	MatchingRows     []store.Row `json:"matchingRows"`
	Count            int         `json:"count"`
	Returned         int         `json:"returned"`
	LimitApplied     bool        `json:"limitApplied"`
	Sum              *float64    `json:"sum,omitempty"`
	SumColumn        string      `json:"sumColumn,omitempty"`
	Language         string      `json:"language"`
	EvaluationErrors int         `json:"evaluationErrors"`
	NextCursor       string      `json:"nextCursor,omitempty"`
}

// LastRowResult is the last row whose identifier column holds a clean number.
type LastRowResult struct {
	Sheet    string     `json:"sheet"`
	Found    bool       `json:"found"`
	Row      *store.Row `json:"row,omitempty"`
	RowIndex *int       `json:"rowIndex,omitempty"`
	IDColumn string     `json:"idColumn"`
	Message  string     `json:"message,omitempty"`
}

// RowCountResult counts data rows.
type RowCountResult struct {
	Sheet    string `json:"sheet"`
	RowCount int    `json:"rowCount"`
}

// DistinctResult lists sorted distinct values of a column.
type DistinctResult struct {
	Sheet          string   `json:"sheet"`
	Column         string   `json:"column"`
	DistinctValues []string `json:"distinctValues"`
	Count          int      `json:"count"`
	TotalDistinct  int      `json:"totalDistinct"`
	LimitApplied   bool     `json:"limitApplied"`
}

// ReduceRequest folds each group of rows through a reducer.
type ReduceRequest struct {
	Sheet        string
	GroupColumn  string
	ReduceCode   string
	InitialValue string
	Language     string
}

// Group is one reduced partition. Result holds raw JSON.
type Group struct {
	GroupKey string `json:"groupKey"`
	Result   any    `json:"result"`
}

// GroupResult lists groups in first-seen key order.
type GroupResult struct {
	Sheet            string  `json:"sheet"`
	GroupColumn      string  `json:"groupColumn"`
	Groups           []Group `json:"groups"`
	TotalGroups      int     `json:"totalGroups"`
	Returned         int     `json:"returned"`
	LimitApplied     bool    `json:"limitApplied"`
	Language         string  `json:"language"`
	EvaluationErrors int     `json:"evaluationErrors"`
}
