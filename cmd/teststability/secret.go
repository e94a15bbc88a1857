package main

import (
	"fmt"

	"teststability/internal/security"

	"github.com/spf13/cobra"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Generate a job secret",
	Long:  `Print a random secret suitable for the secret field of a job in jobs.yaml.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := security.GenerateSecret()
		if err != nil {
			return err
		}
		if err := security.ValidateSecret(secret); err != nil {
			return fmt.Errorf("generated secret rejected, try again: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), secret)
		return nil
	},
}
