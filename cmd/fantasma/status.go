package fantasma

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// NewStatusCmd reports whether a server is up and what it advertises.
func NewStatusCmd() *cobra.Command {
	var base string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 10 * time.Second}

			resp, err := client.Get(base + "/health")
			if err != nil {
				return fmt.Errorf("server unreachable: %w", err)
			}
			resp.Body.Close()
			fmt.Printf("health: %s\n", resp.Status)

			resp, err = client.Get(base + "/.well-known/openid-configuration")
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			var doc struct {
				Issuer          string   `json:"issuer"`
				ScopesSupported []string `json:"scopes_supported"`
				ZkCircuits      []struct {
					ID string `json:"id"`
				} `json:"zk_circuits"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
				return err
			}
			fmt.Printf("issuer: %s\n", doc.Issuer)
			fmt.Printf("scopes: %d advertised\n", len(doc.ScopesSupported))
			for _, c := range doc.ZkCircuits {
				fmt.Printf("circuit: %s\n", c.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&base, "server", "http://127.0.0.1:8470", "Server base URL")
	return cmd
}
