package fantasma

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// adminClient talks to the running server's admin API.
type adminClient struct {
	base string
	key  string
	http *http.Client
}

func newAdminClient(base, key string) *adminClient {
	return &adminClient{
		base: base,
		key:  key,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *adminClient) do(method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("X-Admin-Key", c.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(msg))
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func adminFlags(cmd *cobra.Command, base, key *string) {
	cmd.PersistentFlags().StringVar(base, "server", "http://127.0.0.1:8470", "Server base URL")
	cmd.PersistentFlags().StringVar(key, "admin-key", os.Getenv("FANTASMA_ADMIN_KEY"), "Admin API key")
}

// NewClientCmd manages registered relying parties via the admin API.
func NewClientCmd() *cobra.Command {
	var base, key string

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage registered OAuth clients",
	}
	adminFlags(cmd, &base, &key)

	var (
		name       string
		redirects  []string
		scopes     []string
		clientType string
	)
	registerCmd := &cobra.Command{
		Use:   "register <client-id>",
		Short: "Register a relying party",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				ClientID     string `json:"client_id"`
				ClientSecret string `json:"client_secret"`
			}
			err := newAdminClient(base, key).do(http.MethodPost, "/admin/clients", map[string]any{
				"client_id":      args[0],
				"client_name":    name,
				"redirect_uris":  redirects,
				"allowed_scopes": scopes,
				"client_type":    clientType,
			}, &out)
			if err != nil {
				return err
			}
			fmt.Printf("registered %s\n", out.ClientID)
			if out.ClientSecret != "" {
				fmt.Printf("client_secret (shown once): %s\n", out.ClientSecret)
			}
			return nil
		},
	}
	registerCmd.Flags().StringVar(&name, "name", "", "Display name")
	registerCmd.Flags().StringSliceVar(&redirects, "redirect-uri", nil, "Allowed redirect URI (repeatable)")
	registerCmd.Flags().StringSliceVar(&scopes, "scope", []string{"openid"}, "Allowed scope (repeatable)")
	registerCmd.Flags().StringVar(&clientType, "type", "confidential", "Client type: public or confidential")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered relying parties",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Data []struct {
					ClientID   string `json:"client_id"`
					ClientName string `json:"client_name"`
					ClientType string `json:"client_type"`
				} `json:"data"`
				Total int64 `json:"total"`
			}
			if err := newAdminClient(base, key).do(http.MethodGet, "/admin/clients?limit=200", nil, &out); err != nil {
				return err
			}
			for _, c := range out.Data {
				fmt.Printf("%-24s %-12s %s\n", c.ClientID, c.ClientType, c.ClientName)
			}
			fmt.Printf("total: %d\n", out.Total)
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <client-id>",
		Short: "Delete a relying party",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAdminClient(base, key).do(http.MethodDelete, "/admin/clients/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(registerCmd, listCmd, deleteCmd)
	return cmd
}
