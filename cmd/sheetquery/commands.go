package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vinodismyname/mcpsheets/config"
	"github.com/vinodismyname/mcpsheets/internal/eval"
	"github.com/vinodismyname/mcpsheets/internal/query"
	"github.com/vinodismyname/mcpsheets/internal/security"
	"github.com/vinodismyname/mcpsheets/internal/workbook"
	"github.com/vinodismyname/mcpsheets/pkg/version"
)

type rootOptions struct {
	workbook string
	output   string
	language string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "sheetquery",
		Short:        "Query the sheets of an Excel workbook",
		Long:         "sheetquery runs the same read-only queries the MCP server exposes against a local workbook.",
		Version:      version.String("sheetquery"),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != outputJSON && opts.output != outputTable {
				return fmt.Errorf("invalid output: %s (must be json or table)", opts.output)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.workbook, "workbook", "w", "", "Workbook path (default: $"+config.EnvWorkbook+")")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", outputTable, "Output format: json or table")
	root.PersistentFlags().StringVar(&opts.language, "default-language", config.DefaultLanguage, "Expression language when --language is not given")

	root.AddCommand(
		sheetsCmd(opts),
		schemaCmd(opts),
		rowsCmd(opts),
		filterCmd(opts),
		lastRowCmd(opts),
		countCmd(opts),
		distinctCmd(opts),
		reduceCmd(opts),
	)
	return root
}

// engine loads the workbook named by --workbook or the environment. The
// workbook's own directory is the allow-list unless one is configured.
func (o *rootOptions) engine(ctx context.Context) (*query.Engine, error) {
	cfg := config.Defaults()
	cfg.WorkbookPath = o.workbook
	cfg = cfg.FromEnv(nil)
	if cfg.WorkbookPath == "" {
		return nil, fmt.Errorf("no workbook given; pass --workbook or set %s", config.EnvWorkbook)
	}
	sec, err := security.NewManagerFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	ctx = zerolog.Nop().WithContext(ctx)
	wb, err := workbook.NewLoader(sec, config.DefaultLoadParallelism).Load(ctx, cfg.WorkbookPath)
	if err != nil {
		return nil, err
	}
	return query.New(wb, query.Options{DefaultLanguage: eval.Dialect(o.language)})
}

func sheetsCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sheets",
		Short: "List sheet names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := o.engine(cmd.Context())
			if err != nil {
				return err
			}
			out := eng.ListSheets()
			return o.render(cmd, out, func(t *table) {
				t.header("sheet")
				for _, s := range out.Sheets {
					t.row(s)
				}
			})
		},
	}
}

func schemaCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema SHEET",
		Short: "Show column names and inferred types",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := o.engine(cmd.Context())
			if err != nil {
				return err
			}
			out, err := eng.GetSchema(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return o.render(cmd, out, func(t *table) {
				t.header("column", "type")
				for _, c := range out.Columns {
					t.row(c.ColumnName, c.DataType)
				}
			})
		},
	}
}

func rowsCmd(o *rootOptions) *cobra.Command {
	var limit int
	var cursor string
	cmd := &cobra.Command{
		Use:   "rows SHEET",
		Short: "Print data rows in source order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := o.engine(cmd.Context())
			if err != nil {
				return err
			}
			out, err := eng.QuerySheet(cmd.Context(), query.RowsRequest{Sheet: args[0], Limit: limit, Cursor: cursor})
			if err != nil {
				return err
			}
			return o.renderRows(cmd, eng, out.Sheet, out, out.Rows, out.NextCursor)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Max rows to return (capped at 50)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Cursor printed by a previous call")
	return cmd
}

func filterCmd(o *rootOptions) *cobra.Command {
	var req query.FilterRequest
	cmd := &cobra.Command{
		Use:   "filter SHEET EXPRESSION",
		Short: "Print rows matching a predicate expression",
		Example: `  sheetquery filter Sales 'row.amount > 100' --sum amount
  sheetquery filter Sales 'row.region == "east"' --language cel`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := o.engine(cmd.Context())
			if err != nil {
				return err
			}
			req.Sheet, req.FilterCode = args[0], args[1]
			out, err := eng.CustomFilterSheet(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := o.renderRows(cmd, eng, out.Sheet, out, out.MatchingRows, out.NextCursor); err != nil {
				return err
			}
			if o.output == outputTable {
				fmt.Fprintf(cmd.OutOrStdout(), "matches: %d  evaluation errors: %d\n", out.Count, out.EvaluationErrors)
				if out.Sum != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "sum(%s): %v\n", out.SumColumn, *out.Sum)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.SumColumn, "sum", "", "Column to total across all matches")
	cmd.Flags().IntVarP(&req.Limit, "limit", "n", 0, "Max rows to return (capped at 50)")
	cmd.Flags().StringVarP(&req.Language, "language", "l", "", "javascript or cel")
	cmd.Flags().StringVar(&req.Cursor, "cursor", "", "Cursor printed by a previous call")
	return cmd
}

func lastRowCmd(o *rootOptions) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "last-row SHEET",
		Short: "Print the last row with a numeric identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := o.engine(cmd.Context())
			if err != nil {
				return err
			}
			out, err := eng.GetLastRow(cmd.Context(), args[0], id)
			if err != nil {
				return err
			}
			if o.output == outputTable && !out.Found {
				fmt.Fprintln(cmd.OutOrStdout(), out.Message)
				return nil
			}
			if o.output == outputTable {
				fmt.Fprintf(cmd.OutOrStdout(), "row index: %d\n", *out.RowIndex)
			}
			return o.renderRows(cmd, eng, out.Sheet, out, rowsOf(out.Row), "")
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Identifier column (default: first header column)")
	return cmd
}

func countCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count SHEET",
		Short: "Count data rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := o.engine(cmd.Context())
			if err != nil {
				return err
			}
			out, err := eng.GetRowCount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return o.render(cmd, out, func(t *table) {
				t.header("sheet", "rows")
				t.row(out.Sheet, fmt.Sprint(out.RowCount))
			})
		},
	}
}

func distinctCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "distinct SHEET COLUMN",
		Short: "List sorted distinct values of a column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := o.engine(cmd.Context())
			if err != nil {
				return err
			}
			out, err := eng.GetDistinctValues(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return o.render(cmd, out, func(t *table) {
				t.header(out.Column)
				for _, v := range out.DistinctValues {
					t.row(v)
				}
				t.footer(fmt.Sprintf("%d of %d", out.Count, out.TotalDistinct))
			})
		},
	}
}

func reduceCmd(o *rootOptions) *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "reduce SHEET GROUP_COLUMN REDUCER INITIAL_JSON",
		Short: "Group rows and fold each group with a reducer",
		Example: `  sheetquery reduce Sales region 'accumulator.total += row.amount; return accumulator;' '{"total":0}'
  sheetquery reduce Sales region 'accumulator + row.amount' 0 --language cel`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := o.engine(cmd.Context())
			if err != nil {
				return err
			}
			out, err := eng.ReduceColumn(cmd.Context(), query.ReduceRequest{
				Sheet:        args[0],
				GroupColumn:  args[1],
				ReduceCode:   args[2],
				InitialValue: args[3],
				Language:     language,
			})
			if err != nil {
				return err
			}
			return o.render(cmd, out, func(t *table) {
				t.header(out.GroupColumn, "result")
				for _, g := range out.Groups {
					t.row(g.GroupKey, fmt.Sprintf("%s", g.Result))
				}
				t.footer(fmt.Sprintf("%d of %d groups", out.Returned, out.TotalGroups), "")
			})
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "javascript or cel")
	return cmd
}
