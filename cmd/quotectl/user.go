package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"quote-tracker/internal/bootstrap"
	"quote-tracker/internal/domain"
)

var userInput domain.CreateUserInput

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage staff accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a staff account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(app *bootstrap.App) error {
			user, err := app.Services.Auth.CreateUser(cmd.Context(), userInput)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s user %s (%s)\n", user.Role, user.Email, user.ID)
			return nil
		})
	},
}

func init() {
	f := userCreateCmd.Flags()
	f.StringVar(&userInput.Email, "email", "", "Login email")
	f.StringVar(&userInput.Password, "password", "", "Initial password, at least 8 characters")
	f.StringVar(&userInput.FullName, "name", "", "Full name")
	f.StringVar(&userInput.Role, "role", string(domain.RoleSales), "Role: sales or admin")
	_ = userCreateCmd.MarkFlagRequired("email")
	_ = userCreateCmd.MarkFlagRequired("password")
	_ = userCreateCmd.MarkFlagRequired("name")

	userCmd.AddCommand(userCreateCmd)
	rootCmd.AddCommand(userCmd)
}
