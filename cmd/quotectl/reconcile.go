package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"quote-tracker/internal/bootstrap"
	"quote-tracker/internal/lifecycle"
)

var reconcileAll bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [quote-id]",
	Short: "Rebuild quote statuses from their event logs",
	Long: `Reconcile re-derives a quote's status fields from its event log and
repairs the stored projection when they disagree. Use --all to sweep every quote.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if reconcileAll {
			return cobra.NoArgs(cmd, args)
		}
		if len(args) != 1 {
			return errors.New("requires a quote id or --all")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(app *bootstrap.App) error {
			quotes := app.Services.Quote

			var results []lifecycle.Reconciliation
			if reconcileAll {
				all, err := quotes.ReconcileAll(cmd.Context())
				if err != nil {
					return err
				}
				results = all
			} else {
				id, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid quote id %q", args[0])
				}
				rec, err := quotes.Reconcile(cmd.Context(), id)
				if err != nil {
					return err
				}
				results = append(results, *rec)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "QUOTE\tPREVIOUS\tSTATUS\tCHANGED")
			changed := 0
			for _, r := range results {
				if r.Changed {
					changed++
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", r.QuoteID, r.Previous, r.Status, r.Changed)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			log.Info().Int("quotes", len(results)).Int("changed", changed).Msg("reconcile finished")
			return nil
		})
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileAll, "all", false, "Reconcile every quote")
	rootCmd.AddCommand(reconcileCmd)
}
