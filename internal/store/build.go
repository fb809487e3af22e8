package store

// GridFromValues builds a grid from Go scalars. nil and "" become blank cells;
// numbers, strings, and booleans keep their natural cell type. A Cell passes
// through unchanged.
func GridFromValues(rows ...[]any) [][]Cell {
	grid := make([][]Cell, len(rows))
	for i, r := range rows {
		grid[i] = make([]Cell, len(r))
		for j, x := range r {
			grid[i][j] = cellOf(x)
		}
	}
	return grid
}

// SheetFromRecords builds a sheet whose first row is header and whose data
// rows take each record's values at the header positions.
func SheetFromRecords(name string, header []string, records ...map[string]any) *Sheet {
	rows := make([][]any, 0, len(records)+1)
	h := make([]any, len(header))
	for i, c := range header {
		h[i] = c
	}
	rows = append(rows, h)
	for _, rec := range records {
		r := make([]any, len(header))
		for i, c := range header {
			r[i] = rec[c]
		}
		rows = append(rows, r)
	}
	return NewSheet(name, GridFromValues(rows...))
}

func cellOf(x any) Cell {
	if c, ok := x.(Cell); ok {
		return c
	}
	v := FromNative(x)
	switch v.Kind() {
	case KindNumber:
		return Cell{Type: CellNumber, Value: v}
	case KindBool:
		return Cell{Type: CellBoolean, Value: v}
	case KindText:
		if s, _ := v.Str(); s == "" {
			return Cell{Type: CellBlank}
		}
		return Cell{Type: CellString, Value: v}
	default:
		return Cell{Type: CellBlank}
	}
}
