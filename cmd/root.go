package main

import (
	"github.com/spf13/cobra"

	"github.com/fantasma-id/fantasma/cmd/fantasma"
)

// Init the cmd
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fantasma",
		Short: "Zero-knowledge OpenID Connect provider",
		Long:  `Fantasma speaks standard OAuth 2.0 / OpenID Connect but releases zero-knowledge attestations instead of user attributes.`,
	}

	rootCmd.AddCommand(
		fantasma.NewServeCmd(),
		fantasma.NewMigrateCmd(),
		fantasma.NewClientCmd(),
		fantasma.NewStatusCmd(),
		NewVersionCmd(),
	)

	return rootCmd
}
