package store

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// ErrSheetNotFound indicates a lookup for a sheet name the workbook does not hold.
var ErrSheetNotFound = errors.New("store: sheet not found")

// ErrDuplicateSheet indicates two sheets with the same name were supplied.
var ErrDuplicateSheet = errors.New("store: duplicate sheet name")

// Workbook is the immutable set of named sheets loaded at startup.
type Workbook struct {
	id     string
	order  []string
	sheets map[string]*Sheet
}

// NewWorkbook assembles sheets in the given order and assigns a load ID.
func NewWorkbook(sheets ...*Sheet) (*Workbook, error) {
	wb := &Workbook{
		id:     uuid.NewString(),
		order:  make([]string, 0, len(sheets)),
		sheets: make(map[string]*Sheet, len(sheets)),
	}
	for _, s := range sheets {
		if s == nil {
			return nil, fmt.Errorf("store: nil sheet")
		}
		if _, dup := wb.sheets[s.Name()]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSheet, s.Name())
		}
		wb.sheets[s.Name()] = s
		wb.order = append(wb.order, s.Name())
	}
	return wb, nil
}

// ID identifies this load of the workbook; it changes on every process start.
func (w *Workbook) ID() string { return w.id }

// SheetNames lists sheet names in workbook order.
func (w *Workbook) SheetNames() []string { return slices.Clone(w.order) }

// Sheet returns the sheet with the exact (case-sensitive) name.
func (w *Workbook) Sheet(name string) (*Sheet, error) {
	s, ok := w.sheets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, name)
	}
	return s, nil
}
