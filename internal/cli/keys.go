package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/harun/insightx/pkg/gateway"
	"github.com/spf13/cobra"
)

var (
	keysURL   string
	keysToken string
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Inspect or reset the credential pool of a running gateway",
}

var keysStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-key health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAdminClient()
		if err != nil {
			return err
		}
		var status gateway.KeysStatus
		if err := client.do(cmd.Context(), http.MethodGet, "/api/admin/keys", &status); err != nil {
			return err
		}
		printKeysStatus(cmd.OutOrStdout(), status)
		return nil
	},
}

var keysResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Return every key to healthy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAdminClient()
		if err != nil {
			return err
		}
		var result gateway.ResetResult
		if err := client.do(cmd.Context(), http.MethodPost, "/api/admin/keys/reset", &result); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), result.Message)
		return nil
	},
}

func init() {
	keysCmd.PersistentFlags().StringVar(&keysURL, "url", "", "gateway base URL (default http://localhost:<gateway.port>)")
	keysCmd.PersistentFlags().StringVar(&keysToken, "token", "", "admin token (default gateway.admin_token)")
	keysCmd.AddCommand(keysStatusCmd, keysResetCmd)
	rootCmd.AddCommand(keysCmd)
}

type adminClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAdminClient() (*adminClient, error) {
	base, token := keysURL, keysToken
	if base == "" || token == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		if base == "" {
			base = fmt.Sprintf("http://localhost:%d", cfg.Gateway.Port)
		}
		if token == "" {
			token = cfg.Gateway.AdminToken
		}
	}
	return &adminClient{
		baseURL: strings.TrimRight(base, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *adminClient) do(ctx context.Context, method, path string, out interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Insightx-Actor", "cli")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e gateway.ErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func printKeysStatus(w io.Writer, status gateway.KeysStatus) {
	fmt.Fprintf(w, "Keys: %d (current #%d)\n\n", status.KeyCount, status.CurrentIndex+1)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tLABEL\tSTATUS\tFAILS\tOK\tLAST FAILURE")
	for _, k := range status.Keys {
		reason := k.LastFailureReason
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\n",
			k.Index+1, k.Label, k.Status, k.TotalFailures, k.TotalSuccesses, reason)
	}
	_ = tw.Flush()
}
