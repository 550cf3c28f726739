package fantasma

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fantasma-id/fantasma/store"
)

// NewMigrateCmd creates or updates the database schema.
func NewMigrateCmd() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := databaseURL
			if url == "" {
				url = os.Getenv("DATABASE_URL")
			}
			db, err := store.Open(url)
			if err != nil {
				return &ExitError{Code: 2, Err: err}
			}
			if err := store.Migrate(db); err != nil {
				return &ExitError{Code: 2, Err: fmt.Errorf("migrate: %w", err)}
			}
			fmt.Println("schema up to date")
			return nil
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", "", "Database URL (defaults to DATABASE_URL)")
	return cmd
}
