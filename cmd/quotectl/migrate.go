package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"quote-tracker/internal/bootstrap"
	"quote-tracker/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the Postgres schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(app *bootstrap.App) error {
			if app.DB == nil {
				return errors.New("migrate needs STORE_DRIVER=postgres or firestore")
			}
			if err := repository.Migrate(cmd.Context(), app.DB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema applied")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
