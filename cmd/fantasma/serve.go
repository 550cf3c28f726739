// Package fantasma holds the CLI subcommands of the fantasma binary.
package fantasma

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fantasma-id/fantasma/server"
)

// ExitError carries a process exit code through cobra's error path:
// 1 for configuration failures, 2 for fatal storage failures.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// NewServeCmd starts the authorization server.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Fantasma authorization server",
		Long:  `Start the OIDC authorization server and its proof orchestration pipeline.`,
		Example: `  # Configuration comes from the environment (or a .env file)
  FANTASMA_ISSUER=https://id.example.com FANTASMA_BIND=0.0.0.0:8470 fantasma serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := server.LoadConfig()
			if err != nil {
				return &ExitError{Code: 1, Err: fmt.Errorf("invalid configuration: %w", err)}
			}
			if err := server.Run(cfg); err != nil {
				code := 1
				if errors.Is(err, server.ErrStorage) {
					code = 2
				}
				return &ExitError{Code: code, Err: err}
			}
			return nil
		},
	}
}
