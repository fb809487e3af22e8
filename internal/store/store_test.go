package store

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueStringMatchesScriptFormatting(t *testing.T) {
	cases := []struct {
		in   Value
		want string
	}{
		{Number(150), "150"},
		{Number(1.5), "1.5"},
		{Number(-0.25), "-0.25"},
		{Number(1e21), "1e+21"},
		{Number(1e-7), "1e-7"},
		{Text(" x "), " x "},
		{Bool(true), "true"},
		{Value{}, ""},
	}
	for _, c := range cases {
		require.Equal(t, c.want, c.in.String())
	}
}

func TestValueJSON(t *testing.T) {
	b, err := json.Marshal([]Value{Number(3), Text("a"), Bool(false), {}})
	require.NoError(t, err)
	require.JSONEq(t, `[3,"a",false,null]`, string(b))
}

func TestNewSheetDerivesHeaderAndSparseRows(t *testing.T) {
	grid := GridFromValues(
		[]any{"id", "", "name", "name", "amount"},
		[]any{1, "hidden", "a", "b", 10},
		[]any{nil, nil, nil, nil, nil},
		[]any{2, nil, "c"},
	)
	s := NewSheet("S", grid)

	require.Equal(t, []string{"id", "", "name", "name", "amount"}, s.Header())
	require.Equal(t, 5, s.Width())
	require.Equal(t, 2, s.Len(), "blank rows are not data rows")

	rows := s.Rows()
	_, ok := rows[0].Get("")
	require.False(t, ok, "blank header cells are not mapped")
	v, ok := rows[0].Get("name_1")
	require.True(t, ok)
	require.Equal(t, "b", v.String())

	_, ok = rows[1].Get("amount")
	require.False(t, ok, "missing cells are absent, not null")

	b, err := json.Marshal(rows[0])
	require.NoError(t, err)
	require.Equal(t, `{"id":1,"name":"a","name_1":"b","amount":10}`, string(b))
}

func TestSheetRowsAreCopies(t *testing.T) {
	s := SheetFromRecords("S", []string{"a"}, map[string]any{"a": 1}, map[string]any{"a": 2})
	rows := s.Rows()
	rows[0] = NewRow(Field{Name: "a", Value: Number(99)})

	v, _ := s.Rows()[0].Get("a")
	f, _ := v.Float()
	require.Equal(t, 1.0, f)
}

func TestSheetKeysAndColumns(t *testing.T) {
	s := NewSheet("S", GridFromValues(
		[]any{"id", "", "name", "name", "note"},
		[]any{1, "x", "a", nil, nil},
		[]any{2, nil, nil, "b"},
	))

	require.Equal(t, []string{"id", "name", "name_1", "note"}, s.Keys())
	keys := s.Keys()
	keys[0] = "changed"
	require.Equal(t, "id", s.Keys()[0])

	require.True(t, s.HasColumn("name_1"))
	require.False(t, s.HasColumn("note"), "header without values")
	require.False(t, s.HasColumn(""))
	require.Empty(t, NewSheet("E", nil).Keys())
}

func TestWorkbookLookup(t *testing.T) {
	a := SheetFromRecords("Alpha", []string{"x"})
	b := SheetFromRecords("beta", []string{"x"})
	wb, err := NewWorkbook(a, b)
	require.NoError(t, err)
	require.NotEmpty(t, wb.ID())
	require.Equal(t, []string{"Alpha", "beta"}, wb.SheetNames())

	_, err = wb.Sheet("alpha")
	require.True(t, errors.Is(err, ErrSheetNotFound), "lookups are case-sensitive")

	got, err := wb.Sheet("beta")
	require.NoError(t, err)
	require.Same(t, b, got)

	_, err = NewWorkbook(a, SheetFromRecords("Alpha", nil))
	require.ErrorIs(t, err, ErrDuplicateSheet)
}
