package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"quote-tracker/internal/bootstrap"
)

var summaryCmd = &cobra.Command{
	Use:   "summary [quote-id]",
	Short: "Print the status summary derived from a quote's events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid quote id %q", args[0])
		}

		return withApp(cmd.Context(), func(app *bootstrap.App) error {
			summary, err := app.Services.Quote.StatusSummary(cmd.Context(), id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		})
	},
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}
