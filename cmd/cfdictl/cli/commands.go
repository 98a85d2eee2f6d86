package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cfdilab/cfdilab/internal/app"
	"github.com/cfdilab/cfdilab/internal/cfdi"
)

func newMigrateCommand(factory RuntimeFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the Postgres schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, factory, app.Options{}, func(rt *app.Runtime) error {
				if rt.Pool == nil {
					return errors.New("migrate requires STORE_DRIVER=postgres")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d statements\n", len(cfdi.Migrations))
				return nil
			})
		},
	}
}

func newSeedCommand(factory RuntimeFactory) *cobra.Command {
	var (
		scale    string
		seedFlag uint64
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate demo issuers, recipients, documents and payments",
		Example: `  cfdictl seed --scale small
  cfdictl seed --scale large --seed 42 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, factory, app.Options{SkipMigrations: true}, func(rt *app.Runtime) error {
				seeder := rt.Seeder
				if seedFlag != 0 {
					seeder = rt.SeederWithSeed(seedFlag)
				}
				res, err := seeder.Run(cmd.Context(), scale)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%d payments, %d cancelled)\n", res.Message(), res.Payments, res.Cancelled)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scale, "scale", "", "small, medium, large or empty for 50 documents")
	cmd.Flags().Uint64Var(&seedFlag, "seed", 0, "fix the random stream for reproducible data")
	return cmd
}

func newQueryCommand(factory RuntimeFactory) *cobra.Command {
	var listTables bool
	cmd := &cobra.Command{
		Use:   "query [sql]",
		Short: "Run a read-only SQL statement through the query console",
		Args: func(cmd *cobra.Command, args []string) error {
			if listTables {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, factory, app.Options{SkipMigrations: true}, func(rt *app.Runtime) error {
				out := cmd.OutOrStdout()
				if listTables {
					tables, err := rt.Console.Tables(cmd.Context())
					if err != nil {
						return err
					}
					if jsonOutput(cmd) {
						return writeJSON(out, tables)
					}
					names := make([]string, 0, len(tables))
					for name := range tables {
						names = append(names, name)
					}
					sort.Strings(names)
					for _, name := range names {
						cols := make([]string, 0, len(tables[name]))
						for _, c := range tables[name] {
							cols = append(cols, c.Name+" "+c.Type)
						}
						fmt.Fprintf(out, "%s(%s)\n", name, strings.Join(cols, ", "))
					}
					return nil
				}
				res, err := rt.Console.Run(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return writeJSON(out, res)
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
				for _, row := range res.Rows {
					cells := make([]string, len(res.Columns))
					for i, col := range res.Columns {
						cells[i] = fmt.Sprint(row[col])
					}
					fmt.Fprintln(tw, strings.Join(cells, "\t"))
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(out, "(%d rows, %.2f ms)\n", res.RowCount, res.ElapsedMS)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&listTables, "tables", false, "list tables and columns instead of running a statement")
	return cmd
}

func newDashboardCommand(factory RuntimeFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Print KPIs and the top issuers by amount",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, factory, app.Options{SkipMigrations: true}, func(rt *app.Runtime) error {
				dash, err := rt.Reporting.Dashboard(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonOutput(cmd) {
					return writeJSON(out, dash)
				}
				fmt.Fprintf(out, "documents: %d  amount: %s  active: %d\n",
					dash.KPIs.TotalDocs, dash.KPIs.TotalAmount.StringFixed(2), dash.KPIs.Active)
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RFC\tNAME\tAMOUNT")
				for _, it := range dash.TopIssuers {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", it.RFC, it.Name, it.Value.StringFixed(2))
				}
				return tw.Flush()
			})
		},
	}
}

func newIntegrityCommand(factory RuntimeFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "integrity",
		Short: "Re-check every stored document against the ledger invariants",
		Long: `integrity walks every document and recomputes totals, paid amount and
balance, and checks status rules. It exits with status 2 when any
document is inconsistent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, factory, app.Options{SkipMigrations: true}, func(rt *app.Runtime) error {
				report, err := rt.Integrity.Run(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				ids := make([]string, 0, len(report.Violations))
				for id := range report.Violations {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				if jsonOutput(cmd) {
					violations := make(map[string]string, len(ids))
					for _, id := range ids {
						violations[id] = report.Violations[id].Error()
					}
					if err := writeJSON(out, map[string]any{"checked": report.Checked, "violations": violations}); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(out, "checked %d documents, %d violations\n", report.Checked, len(ids))
					for _, id := range ids {
						fmt.Fprintf(out, "  %s: %v\n", id, report.Violations[id])
					}
				}
				if len(ids) > 0 {
					return exitError{code: 2}
				}
				return nil
			})
		},
	}
}
