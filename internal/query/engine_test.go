package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vinodismyname/mcpsheets/internal/eval"
	"github.com/vinodismyname/mcpsheets/internal/store"
	"github.com/vinodismyname/mcpsheets/pkg/pagination"
)

func newEngine(t *testing.T, opts Options, sheets ...*store.Sheet) *Engine {
	t.Helper()
	wb, err := store.NewWorkbook(sheets...)
	require.NoError(t, err)
	e, err := New(wb, opts)
	require.NoError(t, err)
	return e
}

func groupsSheet() *store.Sheet {
	return store.SheetFromRecords("G", []string{"g", "v"},
		map[string]any{"g": "a", "v": 1},
		map[string]any{"g": "a", "v": 2},
		map[string]any{"g": "b", "v": 5},
	)
}

func amountsSheet() *store.Sheet {
	return store.SheetFromRecords("Sales", []string{"id", "amount"},
		map[string]any{"id": 1, "amount": 50},
		map[string]any{"id": 2, "amount": 150},
		map[string]any{"id": 3, "amount": 200},
	)
}

func TestNewRequiresWorkbook(t *testing.T) {
	_, err := New(nil, Options{})
	require.ErrorIs(t, err, ErrNoWorkbook)
}

func TestListSheetsKeepsOrder(t *testing.T) {
	e := newEngine(t, Options{}, amountsSheet(), groupsSheet())
	got := e.ListSheets()
	require.Equal(t, []string{"Sales", "G"}, got.Sheets)
	require.Equal(t, 2, got.Count)
}

func TestUnknownSheet(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Options{}, amountsSheet())

	_, err := e.GetSchema(ctx, "sales")
	require.ErrorIs(t, err, store.ErrSheetNotFound)
	_, err = e.QuerySheet(ctx, RowsRequest{Sheet: "Nope"})
	require.ErrorIs(t, err, store.ErrSheetNotFound)
	_, err = e.CustomFilterSheet(ctx, FilterRequest{Sheet: "Nope", FilterCode: "row.id >"})
	require.ErrorIs(t, err, store.ErrSheetNotFound)
	_, err = e.ReduceColumn(ctx, ReduceRequest{Sheet: "Nope", GroupColumn: "g", ReduceCode: "x", InitialValue: "0"})
	require.ErrorIs(t, err, store.ErrSheetNotFound)
	_, err = e.GetLastRow(ctx, "Nope", "")
	require.ErrorIs(t, err, store.ErrSheetNotFound)
	_, err = e.GetRowCount(ctx, "Nope")
	require.ErrorIs(t, err, store.ErrSheetNotFound)
	_, err = e.GetDistinctValues(ctx, "Nope", "id")
	require.ErrorIs(t, err, store.ErrSheetNotFound)
}

func TestGetSchema(t *testing.T) {
	grid := store.GridFromValues(
		[]any{"id", "", "name", "active", "when"},
		[]any{1, "x", "alice", true, store.Cell{Type: store.CellDate, Value: store.Number(45000)}},
		[]any{"two", 2, 3, "no"},
	)
	e := newEngine(t, Options{}, store.NewSheet("S", grid))

	got, err := e.GetSchema(context.Background(), "S")
	require.NoError(t, err)
	require.Equal(t, []ColumnSchema{
		{ColumnName: "id", DataType: TypeNumber},
		{ColumnName: "", DataType: TypeString},
		{ColumnName: "name", DataType: TypeString},
		{ColumnName: "active", DataType: TypeBoolean},
		{ColumnName: "when", DataType: TypeUnknown},
	}, got.Columns)
}

func TestGetSchemaHeaderOnly(t *testing.T) {
	e := newEngine(t, Options{}, store.NewSheet("S", store.GridFromValues([]any{"a", "b"})))
	got, err := e.GetSchema(context.Background(), "S")
	require.NoError(t, err)
	require.Equal(t, []ColumnSchema{{"a", TypeUnknown}, {"b", TypeUnknown}}, got.Columns)
}

func TestQuerySheetLimits(t *testing.T) {
	ctx := context.Background()
	recs := make([]map[string]any, 120)
	for i := range recs {
		recs[i] = map[string]any{"id": i + 1}
	}
	e := newEngine(t, Options{}, store.SheetFromRecords("Big", []string{"id"}, recs...))

	for _, tc := range []struct {
		limit, want int
	}{{0, 50}, {10, 10}, {500, 50}, {-3, 50}} {
		got, err := e.QuerySheet(ctx, RowsRequest{Sheet: "Big", Limit: tc.limit})
		require.NoError(t, err)
		require.Equal(t, tc.want, got.Returned, "limit %d", tc.limit)
		require.Len(t, got.Rows, tc.want)
		require.Equal(t, 120, got.TotalRows)
		require.True(t, got.LimitApplied)
		require.NotEmpty(t, got.NextCursor)
	}
}

func TestQuerySheetCursorWalk(t *testing.T) {
	ctx := context.Background()
	recs := make([]map[string]any, 120)
	for i := range recs {
		recs[i] = map[string]any{"id": i + 1}
	}
	e := newEngine(t, Options{}, store.SheetFromRecords("Big", []string{"id"}, recs...), groupsSheet())

	var (
		seen   int
		cursor string
		pages  int
	)
	for {
		got, err := e.QuerySheet(ctx, RowsRequest{Sheet: "Big", Cursor: cursor})
		require.NoError(t, err)
		seen += got.Returned
		pages++
		first, _ := got.Rows[0].Get("id")
		require.Equal(t, fmt.Sprint((pages-1)*50+1), first.String())
		if got.NextCursor == "" {
			require.False(t, got.LimitApplied)
			break
		}
		cursor = got.NextCursor
	}
	require.Equal(t, 120, seen)
	require.Equal(t, 3, pages)

	first, err := e.QuerySheet(ctx, RowsRequest{Sheet: "Big"})
	require.NoError(t, err)
	_, err = e.QuerySheet(ctx, RowsRequest{Sheet: "G", Cursor: first.NextCursor})
	require.ErrorIs(t, err, pagination.ErrCursorMismatch)
	_, err = e.QuerySheet(ctx, RowsRequest{Sheet: "Big", Cursor: "%%%"})
	require.ErrorIs(t, err, ErrInvalidCursor)
}

func TestCustomFilterSheetSum(t *testing.T) {
	e := newEngine(t, Options{}, amountsSheet())
	got, err := e.CustomFilterSheet(context.Background(), FilterRequest{
		Sheet: "Sales", FilterCode: "row.amount > 100", SumColumn: "amount",
	})
	require.NoError(t, err)
	require.Equal(t, 2, got.Count)
	require.NotNil(t, got.Sum)
	require.Equal(t, 350.0, *got.Sum)
	require.Equal(t, "amount", got.SumColumn)
	require.Len(t, got.MatchingRows, 2)
	id, _ := got.MatchingRows[0].Get("id")
	require.Equal(t, "2", id.String())
	require.Equal(t, "javascript", got.Language)
}

func TestCustomFilterSheetSumOmittedWithoutDefinedColumn(t *testing.T) {
	e := newEngine(t, Options{}, amountsSheet())
	got, err := e.CustomFilterSheet(context.Background(), FilterRequest{
		Sheet: "Sales", FilterCode: "row.amount > 100", SumColumn: "missing",
	})
	require.NoError(t, err)
	require.Nil(t, got.Sum)
	require.Empty(t, got.SumColumn)

	b, err := json.Marshal(got)
	require.NoError(t, err)
	require.NotContains(t, string(b), `"sum"`)
}

func TestCustomFilterSheetSumIgnoresText(t *testing.T) {
	s := store.SheetFromRecords("S", []string{"k", "n"},
		map[string]any{"k": "x", "n": 4},
		map[string]any{"k": "x", "n": "n/a"},
		map[string]any{"k": "y", "n": 9},
	)
	e := newEngine(t, Options{}, s)
	got, err := e.CustomFilterSheet(context.Background(), FilterRequest{Sheet: "S", FilterCode: `row.k == "x"`, SumColumn: "n", Language: "cel"})
	require.NoError(t, err)
	require.Equal(t, 2, got.Count)
	require.Equal(t, 4.0, *got.Sum)
	require.Equal(t, "cel", got.Language)
}

func TestCustomFilterSheetCountsThrowingRows(t *testing.T) {
	e := newEngine(t, Options{}, amountsSheet())
	got, err := e.CustomFilterSheet(context.Background(), FilterRequest{
		Sheet: "Sales", FilterCode: "row.amount > 100 && row.nothing.here",
	})
	require.NoError(t, err)
	require.Zero(t, got.Count)
	require.Equal(t, 2, got.EvaluationErrors)
}

func TestCustomFilterSheetCompileError(t *testing.T) {
	e := newEngine(t, Options{}, amountsSheet())
	_, err := e.CustomFilterSheet(context.Background(), FilterRequest{Sheet: "Sales", FilterCode: "row.amount >"})
	require.ErrorIs(t, err, eval.ErrCompile)
}

func TestCustomFilterSheetDisabledLanguage(t *testing.T) {
	e := newEngine(t, Options{AllowedLanguages: []eval.Dialect{eval.CEL}}, amountsSheet())
	_, err := e.CustomFilterSheet(context.Background(), FilterRequest{Sheet: "Sales", FilterCode: "true", Language: "javascript"})
	require.ErrorIs(t, err, eval.ErrDialectDisabled)

	got, err := e.CustomFilterSheet(context.Background(), FilterRequest{Sheet: "Sales", FilterCode: "row.amount >= 150"})
	require.NoError(t, err)
	require.Equal(t, 2, got.Count)
	require.Equal(t, "cel", got.Language)
}

func TestCustomFilterSheetTimeout(t *testing.T) {
	e := newEngine(t, Options{EvaluationTimeout: 50 * time.Millisecond}, amountsSheet())
	_, err := e.CustomFilterSheet(context.Background(), FilterRequest{
		Sheet: "Sales", FilterCode: "(function(){ for (;;) {} })()",
	})
	require.ErrorIs(t, err, eval.ErrEvalTimeout)
}

func TestCustomFilterSheetCursor(t *testing.T) {
	ctx := context.Background()
	recs := make([]map[string]any, 70)
	for i := range recs {
		recs[i] = map[string]any{"id": i + 1}
	}
	e := newEngine(t, Options{}, store.SheetFromRecords("S", []string{"id"}, recs...))

	req := FilterRequest{Sheet: "S", FilterCode: "row.id % 2 === 0", SumColumn: "id", Limit: 20}
	first, err := e.CustomFilterSheet(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 35, first.Count)
	require.Equal(t, 20, first.Returned)
	require.NotEmpty(t, first.NextCursor)

	req.Cursor = first.NextCursor
	second, err := e.CustomFilterSheet(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 15, second.Returned)
	require.False(t, second.LimitApplied)
	require.Empty(t, second.NextCursor)
	require.Equal(t, *first.Sum, *second.Sum)

	req.FilterCode = "row.id % 2 === 1"
	_, err = e.CustomFilterSheet(ctx, req)
	require.ErrorIs(t, err, pagination.ErrCursorMismatch)
}

type countingGate struct {
	acquired, released int
	fail               bool
}

func (g *countingGate) AcquireEvaluation(ctx context.Context) error {
	if g.fail {
		return errors.New("full")
	}
	g.acquired++
	return nil
}

func (g *countingGate) ReleaseEvaluation() { g.released++ }

type recordingObserver struct {
	ops []string
}

func (o *recordingObserver) ObserveEvaluation(op string, _ eval.Dialect, _, _ int, _ time.Duration) {
	o.ops = append(o.ops, op)
}

func TestEvaluationGateAndObserver(t *testing.T) {
	ctx := context.Background()
	gate := &countingGate{}
	obs := &recordingObserver{}
	e := newEngine(t, Options{Gate: gate, Observer: obs}, amountsSheet(), groupsSheet())

	_, err := e.CustomFilterSheet(ctx, FilterRequest{Sheet: "Sales", FilterCode: "true"})
	require.NoError(t, err)
	_, err = e.ReduceColumn(ctx, ReduceRequest{Sheet: "G", GroupColumn: "g", ReduceCode: "return accumulator + 1;", InitialValue: "0"})
	require.NoError(t, err)
	require.Equal(t, 2, gate.acquired)
	require.Equal(t, 2, gate.released)
	require.Equal(t, []string{"custom_filter_sheet", "reduce_column"}, obs.ops)

	gate.fail = true
	_, err = e.CustomFilterSheet(ctx, FilterRequest{Sheet: "Sales", FilterCode: "true"})
	require.ErrorIs(t, err, ErrBusy)
}

func TestReduceColumnTotals(t *testing.T) {
	e := newEngine(t, Options{}, groupsSheet())
	got, err := e.ReduceColumn(context.Background(), ReduceRequest{
		Sheet:        "G",
		GroupColumn:  "g",
		ReduceCode:   "accumulator.total += row.v; return accumulator;",
		InitialValue: `{"total":0}`,
	})
	require.NoError(t, err)
	require.Equal(t, 2, got.TotalGroups)
	require.False(t, got.LimitApplied)

	b, err := json.Marshal(got.Groups)
	require.NoError(t, err)
	require.JSONEq(t, `[{"groupKey":"a","result":{"total":3}},{"groupKey":"b","result":{"total":5}}]`, string(b))
}

func TestReduceColumnMutationIsolation(t *testing.T) {
	e := newEngine(t, Options{}, groupsSheet())
	got, err := e.ReduceColumn(context.Background(), ReduceRequest{
		Sheet:        "G",
		GroupColumn:  "g",
		ReduceCode:   "accumulator.items.push(row.v); accumulator.meta.last = row.g; return accumulator;",
		InitialValue: `{"items":[],"meta":{"last":null}}`,
	})
	require.NoError(t, err)
	b, err := json.Marshal(got.Groups)
	require.NoError(t, err)
	require.JSONEq(t, `[
		{"groupKey":"a","result":{"items":[1,2],"meta":{"last":"a"}}},
		{"groupKey":"b","result":{"items":[5],"meta":{"last":"b"}}}
	]`, string(b))
}

func TestReduceColumnCEL(t *testing.T) {
	e := newEngine(t, Options{}, groupsSheet())
	got, err := e.ReduceColumn(context.Background(), ReduceRequest{
		Sheet:        "G",
		GroupColumn:  "g",
		ReduceCode:   `{"total": accumulator.total + row.v}`,
		InitialValue: `{"total":0}`,
		Language:     "cel",
	})
	require.NoError(t, err)
	b, err := json.Marshal(got.Groups)
	require.NoError(t, err)
	require.JSONEq(t, `[{"groupKey":"a","result":{"total":3}},{"groupKey":"b","result":{"total":5}}]`, string(b))
}

func TestReduceColumnSkipsRowsWithoutKeyAndTrims(t *testing.T) {
	s := store.SheetFromRecords("S", []string{"g", "v"},
		map[string]any{"g": " a ", "v": 1},
		map[string]any{"v": 100},
		map[string]any{"g": "a", "v": 2},
		map[string]any{"g": 7, "v": 3},
	)
	e := newEngine(t, Options{}, s)
	got, err := e.ReduceColumn(context.Background(), ReduceRequest{
		Sheet: "S", GroupColumn: "g", ReduceCode: "return accumulator + row.v;", InitialValue: "0",
	})
	require.NoError(t, err)
	b, err := json.Marshal(got.Groups)
	require.NoError(t, err)
	require.JSONEq(t, `[{"groupKey":"a","result":3},{"groupKey":"7","result":3}]`, string(b))
}

func TestReduceColumnErrors(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Options{}, groupsSheet())

	_, err := e.ReduceColumn(ctx, ReduceRequest{Sheet: "G", GroupColumn: "zzz", ReduceCode: "return 1;", InitialValue: "0"})
	require.ErrorIs(t, err, ErrColumnNotFound)

	_, err = e.ReduceColumn(ctx, ReduceRequest{Sheet: "G", GroupColumn: "g", ReduceCode: "return 1;", InitialValue: "{total:0}"})
	require.ErrorIs(t, err, eval.ErrInitialValue)

	_, err = e.ReduceColumn(ctx, ReduceRequest{Sheet: "G", GroupColumn: "g", ReduceCode: "return (;", InitialValue: "0"})
	require.ErrorIs(t, err, eval.ErrCompile)
}

func TestReduceColumnTimeoutCoversSerialization(t *testing.T) {
	e := newEngine(t, Options{EvaluationTimeout: 100 * time.Millisecond}, groupsSheet())

	start := time.Now()
	_, err := e.ReduceColumn(context.Background(), ReduceRequest{
		Sheet: "G", GroupColumn: "g",
		ReduceCode:   "return {toJSON: function() { while (true) {} }};",
		InitialValue: "0",
	})
	require.ErrorIs(t, err, eval.ErrEvalTimeout)
	require.Less(t, time.Since(start), 5*time.Second)

	got, err := e.ReduceColumn(context.Background(), ReduceRequest{
		Sheet: "G", GroupColumn: "g", ReduceCode: "return accumulator + row.v;", InitialValue: "0",
	})
	require.NoError(t, err)
	require.Equal(t, 2, got.TotalGroups)
}

func TestReduceColumnLimitsGroups(t *testing.T) {
	recs := make([]map[string]any, 60)
	for i := range recs {
		recs[i] = map[string]any{"g": fmt.Sprintf("k%02d", i), "v": 1}
	}
	e := newEngine(t, Options{}, store.SheetFromRecords("S", []string{"g", "v"}, recs...))
	got, err := e.ReduceColumn(context.Background(), ReduceRequest{
		Sheet: "S", GroupColumn: "g", ReduceCode: "return accumulator + row.v;", InitialValue: "0",
	})
	require.NoError(t, err)
	require.Equal(t, 60, got.TotalGroups)
	require.Equal(t, 50, got.Returned)
	require.Len(t, got.Groups, 50)
	require.True(t, got.LimitApplied)
	require.Equal(t, "k00", got.Groups[0].GroupKey)
}

func TestGetLastRowSkipsTrailingText(t *testing.T) {
	s := store.SheetFromRecords("S", []string{"id", "name"},
		map[string]any{"id": 1, "name": "a"},
		map[string]any{"id": "2", "name": "b"},
		map[string]any{"id": "=SUM(A2:A3)", "name": "formula"},
		map[string]any{"id": "Total", "name": "summary"},
	)
	e := newEngine(t, Options{}, s)
	got, err := e.GetLastRow(context.Background(), "S", "")
	require.NoError(t, err)
	require.True(t, got.Found)
	require.Equal(t, "id", got.IDColumn)
	require.Equal(t, 1, *got.RowIndex)
	name, _ := got.Row.Get("name")
	require.Equal(t, "b", name.String())
}

func TestGetLastRowNoValidRows(t *testing.T) {
	s := store.SheetFromRecords("S", []string{"id"},
		map[string]any{"id": "x"},
		map[string]any{"id": "Total"},
	)
	e := newEngine(t, Options{}, s)
	got, err := e.GetLastRow(context.Background(), "S", "")
	require.NoError(t, err)
	require.False(t, got.Found)
	require.Equal(t, "no valid data rows", got.Message)
	require.Nil(t, got.Row)
}

func TestGetLastRowEmptySheet(t *testing.T) {
	e := newEngine(t, Options{}, store.NewSheet("Empty", nil))
	got, err := e.GetLastRow(context.Background(), "Empty", "")
	require.NoError(t, err)
	require.False(t, got.Found)
	require.Equal(t, "sheet is empty", got.Message)
}

func TestGetLastRowExplicitColumn(t *testing.T) {
	s := store.SheetFromRecords("S", []string{"label", "seq"},
		map[string]any{"label": "a", "seq": 10},
		map[string]any{"label": "b", "seq": "n/a"},
	)
	e := newEngine(t, Options{}, s)
	got, err := e.GetLastRow(context.Background(), "S", "seq")
	require.NoError(t, err)
	require.Equal(t, 0, *got.RowIndex)

	_, err = e.GetLastRow(context.Background(), "S", "nope")
	require.ErrorIs(t, err, ErrColumnNotFound)
}

func TestGetRowCount(t *testing.T) {
	e := newEngine(t, Options{}, amountsSheet())
	got, err := e.GetRowCount(context.Background(), "Sales")
	require.NoError(t, err)
	require.Equal(t, 3, got.RowCount)
}

func TestGetDistinctValues(t *testing.T) {
	s := store.SheetFromRecords("S", []string{"c"},
		map[string]any{"c": "b"},
		map[string]any{"c": "a"},
		map[string]any{"c": "a"},
		map[string]any{"c": ""},
		map[string]any{"c": nil},
		map[string]any{"c": "c"},
		map[string]any{"c": "   "},
	)
	e := newEngine(t, Options{}, s)
	got, err := e.GetDistinctValues(context.Background(), "S", "c")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, got.DistinctValues)
	require.Equal(t, 3, got.Count)
	require.False(t, got.LimitApplied)
}

func TestGetDistinctValuesColumnKnownButEmpty(t *testing.T) {
	s := store.SheetFromRecords("S", []string{"a", "b"}, map[string]any{"a": 1})
	e := newEngine(t, Options{}, s)
	got, err := e.GetDistinctValues(context.Background(), "S", "b")
	require.NoError(t, err)
	require.Empty(t, got.DistinctValues)
	require.Zero(t, got.Count)

	_, err = e.GetDistinctValues(context.Background(), "S", "zzz")
	require.ErrorIs(t, err, ErrColumnNotFound)
}

func TestGetDistinctValuesSortedBeforeLimit(t *testing.T) {
	recs := make([]map[string]any, 0, 80)
	for i := 79; i >= 0; i-- {
		recs = append(recs, map[string]any{"c": fmt.Sprintf("v%02d", i)})
	}
	e := newEngine(t, Options{}, store.SheetFromRecords("S", []string{"c"}, recs...))
	got, err := e.GetDistinctValues(context.Background(), "S", "c")
	require.NoError(t, err)
	require.Equal(t, 50, got.Count)
	require.Equal(t, 80, got.TotalDistinct)
	require.True(t, got.LimitApplied)
	require.Equal(t, "v00", got.DistinctValues[0])
	require.Equal(t, "v49", got.DistinctValues[49])
}

func TestIdempotentJSON(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Options{}, amountsSheet(), groupsSheet())

	calls := []func() (any, error){
		func() (any, error) { return e.ListSheets(), nil },
		func() (any, error) { return e.GetSchema(ctx, "Sales") },
		func() (any, error) { return e.QuerySheet(ctx, RowsRequest{Sheet: "Sales", Limit: 2}) },
		func() (any, error) {
			return e.CustomFilterSheet(ctx, FilterRequest{Sheet: "Sales", FilterCode: "row.amount > 10", SumColumn: "amount", Limit: 1})
		},
		func() (any, error) { return e.GetLastRow(ctx, "Sales", "") },
		func() (any, error) { return e.GetDistinctValues(ctx, "G", "g") },
		func() (any, error) {
			return e.ReduceColumn(ctx, ReduceRequest{Sheet: "G", GroupColumn: "g", ReduceCode: "accumulator[row.g] = row.v; accumulator.n = (accumulator.n || 0) + 1; return accumulator;", InitialValue: "{}"})
		},
	}
	for i, call := range calls {
		a, err := call()
		require.NoError(t, err)
		b, err := call()
		require.NoError(t, err)
		ja, err := json.Marshal(a)
		require.NoError(t, err)
		jb, err := json.Marshal(b)
		require.NoError(t, err)
		require.Equal(t, string(ja), string(jb), "call %d", i)
	}
}
