package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newCacheCommand() *cobra.Command {
	var server, bearer string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the token cache of a running service",
	}
	cmd.PersistentFlags().StringVar(&server, "server", "http://localhost:8080", "base URL of the tenant-token-bridge service")
	cmd.PersistentFlags().StringVar(&bearer, "bearer-token", os.Getenv("TOKENCTL_BEARER_TOKEN"), "JWT presented to a service with authorization enabled")

	cmd.AddCommand(&cobra.Command{
		Use:   "metrics",
		Short: "Print cache performance metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serviceRequest(cmd, http.MethodGet, server, bearer, "/cache/metrics", nil)
		},
	})

	var pattern string
	keys := &cobra.Command{
		Use:   "keys",
		Short: "List cached keys containing --pattern",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serviceRequest(cmd, http.MethodGet, server, bearer, "/cache/keys", url.Values{"pattern": {pattern}})
		},
	}
	keys.Flags().StringVar(&pattern, "pattern", "", "substring to match")
	cmd.AddCommand(keys)

	var removePattern string
	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove cached keys containing --pattern; an empty pattern removes everything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serviceRequest(cmd, http.MethodDelete, server, bearer, "/cache/keys", url.Values{"pattern": {removePattern}})
		},
	}
	remove.Flags().StringVar(&removePattern, "pattern", "", "substring to match")
	cmd.AddCommand(remove)

	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Sweep expired entries now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serviceRequest(cmd, http.MethodPost, server, bearer, "/cache/cleanup", nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the cache engine configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serviceRequest(cmd, http.MethodGet, server, bearer, "/cache/config", nil)
		},
	})

	return cmd
}

// serviceRequest calls the service and pretty prints its JSON response.
func serviceRequest(cmd *cobra.Command, method, server, bearer, path string, query url.Values) error {
	target := strings.TrimSuffix(server, "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(cmd.Context(), method, target, nil)
	if err != nil {
		return err
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("service request failed: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}

	if res.StatusCode >= 400 {
		return fmt.Errorf("service returned %s: %s", res.Status, strings.TrimSpace(string(data)))
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("decoding service response: %w", err)
	}

	out := json.NewEncoder(cmd.OutOrStdout())
	out.SetIndent("", "  ")
	return out.Encode(decoded)
}
