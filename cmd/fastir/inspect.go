package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/fastir/pkg/features"
	"github.com/ajitpratap0/fastir/pkg/formats/columnar"
)

func newInspectCommand() *cobra.Command {
	var format string
	var rows int

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the schema and first rows of a feature file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := columnar.FormatFromPath(path)
			if format != "" {
				f, err = columnar.ParseFormat(format)
			}
			if err != nil {
				return err
			}

			data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			table, err := columnar.ReadTable(data, f, nil)
			if err != nil {
				return err
			}
			defer table.Release()

			return printTable(cmd.OutOrStdout(), table, rows)
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "File format (default: inferred from the extension)")
	cmd.Flags().IntVarP(&rows, "rows", "n", 10, "Number of rows to print (0 = schema only, -1 = all)")
	return cmd
}

func printTable(w io.Writer, t *features.Table, limit int) error {
	fmt.Fprintf(w, "%d rows, %d columns\n", t.NumRows(), t.NumCols())
	for _, f := range t.Schema().Fields() {
		nullable := ""
		if f.Nullable {
			nullable = " (nullable)"
		}
		fmt.Fprintf(w, "  %s: %s%s\n", f.Name, f.Type, nullable)
	}
	if limit == 0 || t.NumRows() == 0 {
		return nil
	}

	n := int(t.NumRows())
	if limit > 0 && limit < n {
		n = limit
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.ColumnNames(), "\t"))
	cells := make([]string, t.NumCols())
	for row := 0; row < n; row++ {
		for i := range cells {
			cells[i] = t.Column(i).ValueStr(row)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if n < int(t.NumRows()) {
		fmt.Fprintf(w, "... %d more rows\n", int(t.NumRows())-n)
	}
	return nil
}
