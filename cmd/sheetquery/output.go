package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/vinodismyname/mcpsheets/internal/query"
	"github.com/vinodismyname/mcpsheets/internal/store"
)

const (
	outputJSON  = "json"
	outputTable = "table"
)

// table collects rows for a tablewriter render.
type table struct {
	w *tablewriter.Table
}

func newTable(out io.Writer) *table {
	w := tablewriter.NewWriter(out)
	w.SetAutoWrapText(false)
	w.SetAutoFormatHeaders(false)
	w.SetAlignment(tablewriter.ALIGN_LEFT)
	return &table{w: w}
}

func (t *table) header(cols ...string) { t.w.SetHeader(cols) }
func (t *table) row(cells ...string) { t.w.Append(cells) }
func (t *table) footer(cells ...string) { t.w.SetFooter(cells) }

// render writes out as indented JSON or, for table output, via fill.
func (o *rootOptions) render(cmd *cobra.Command, out any, fill func(*table)) error {
	w := cmd.OutOrStdout()
	if o.output == outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	t := newTable(w)
	fill(t)
	t.w.Render()
	return nil
}

// renderRows tabulates rows under the sheet's header keys. Columns a row does
// not define print as empty cells.
func (o *rootOptions) renderRows(cmd *cobra.Command, eng *query.Engine, sheet string, out any, rows []store.Row, next string) error {
	s, err := eng.Workbook().Sheet(sheet)
	if err != nil {
		return err
	}
	keys := s.Keys()
	err = o.render(cmd, out, func(t *table) {
		t.header(keys...)
		for _, r := range rows {
			cells := make([]string, len(keys))
			for i, k := range keys {
				if v, ok := r.Get(k); ok {
					cells[i] = v.String()
				}
			}
			t.row(cells...)
		}
	})
	if err == nil && next != "" && o.output == outputTable {
		fmt.Fprintf(cmd.OutOrStdout(), "next cursor: %s\n", next)
	}
	return err
}

func rowsOf(r *store.Row) []store.Row {
	if r == nil {
		return nil
	}
	return []store.Row{*r}
}
