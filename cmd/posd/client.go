package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kellyhimself/POS-sub002/internal/app"
	"github.com/Kellyhimself/POS-sub002/internal/domain"
	"github.com/Kellyhimself/POS-sub002/internal/syncer"
	"github.com/Kellyhimself/POS-sub002/pkg/httpclient"
)

// apiClient talks to the local API of a running daemon. The store is
// single-writer, so these commands never open it themselves.
type apiClient struct {
	base string
	http *httpclient.Client
}

func newAPIClient(cmd *cobra.Command) (*apiClient, error) {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		return nil, exitError(2, "--addr is required")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 10 * time.Second
	cfg.MaxRetries = 0
	return &apiClient{base: strings.TrimRight(addr, "/"), http: httpclient.New(cfg)}, nil
}

// call sends a request and decodes the data envelope into dst.
func (c *apiClient) call(ctx context.Context, method, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return exitError(3, "daemon not reachable at %s: %v", c.base, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return exitError(1, "%v", httpclient.ParseResponseError(resp, "posd"))
	}

	body, err := httpclient.ReadBody(resp)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if dst == nil {
		return nil
	}
	return json.Unmarshal(envelope.Data, dst)
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Trigger a sync cycle on the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, _ := cmd.Flags().GetString("domain")
			path := "/api/v1/sync/trigger"
			if d != "" {
				if _, ok := domain.ParseDomain(d); !ok {
					return exitError(2, "unknown domain %q: want sales, stock, products or tax", d)
				}
				path += "?domain=" + url.QueryEscape(d)
			}

			client, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			var resp struct {
				Triggered []domain.Domain `json:"triggered"`
			}
			if err := client.call(cmd.Context(), http.MethodPost, path, &resp); err != nil {
				return err
			}
			for _, d := range resp.Triggered {
				fmt.Fprintf(cmd.OutOrStdout(), "triggered %s\n", d)
			}
			return nil
		},
	}
	cmd.Flags().String("domain", "", "Sync only this domain (sales, stock, products, tax)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show mode and per-domain queue state of the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			var resp struct {
				Mode    domain.Mode     `json:"mode"`
				Domains []syncer.Status `json:"domains"`
			}
			if err := client.call(cmd.Context(), http.MethodGet, "/api/v1/sync/status", &resp); err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "mode: %s\n\n", resp.Mode)
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(writer, "DOMAIN\tPENDING\tFAILED\tRUNNING\tLAST SYNC\tLAST ERROR")
			for _, s := range resp.Domains {
				last := "never"
				if s.LastSyncTime != nil {
					last = s.LastSyncTime.Local().Format(time.DateTime)
				}
				lastErr := s.LastError
				if lastErr == "" {
					lastErr = "-"
				}
				fmt.Fprintf(writer, "%s\t%d\t%d\t%t\t%s\t%s\n", s.Domain, s.Pending, s.Failed, s.Running, last, lastErr)
			}
			return writer.Flush()
		},
	}
	cmd.Flags().Bool("json", false, "Print the raw status as JSON")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "posd version %s\n", app.Version)
		},
	}
}
