package query

import "github.com/vinodismyname/mcpsheets/internal/store"

// InferSchema reads the header row across the sheet's full width and types
// each column from the first data row only. Columns without a second row, or
// whose sample is a date, error, or blank cell, are unknown.
func InferSchema(s *store.Sheet) []ColumnSchema {
	header := s.Header()
	cols := make([]ColumnSchema, len(header))
	for i, name := range header {
		cols[i] = ColumnSchema{ColumnName: name, DataType: TypeUnknown}
		if s.GridHeight() < 2 {
			continue
		}
		cols[i].DataType = sampleType(s.Cell(1, i))
	}
	return cols
}

func sampleType(c store.Cell) string {
	if c.IsBlank() {
		return TypeUnknown
	}
	switch c.Type {
	case store.CellNumber:
		return TypeNumber
	case store.CellString:
		return TypeString
	case store.CellBoolean:
		return TypeBoolean
	default:
		return TypeUnknown
	}
}
