package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chinmina/tenant-token-bridge/internal/auth"
	"github.com/chinmina/tenant-token-bridge/internal/cache"
	"github.com/chinmina/tenant-token-bridge/internal/config"
	"github.com/chinmina/tenant-token-bridge/internal/tokenmanager"
	"github.com/spf13/cobra"
)

func NewRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tokenctl",
		Short: "Acquire platform access tokens and inspect the token bridge",
		Long: `tokenctl acquires app and tenant access tokens using the APP_* environment
configuration, makes authenticated platform API calls, and inspects the token
cache of a running tenant-token-bridge service.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.AddCommand(newTokenCommand(auth.App))
	rootCmd.AddCommand(newTokenCommand(auth.Tenant))
	rootCmd.AddCommand(newCallCommand())
	rootCmd.AddCommand(newCacheCommand())

	return rootCmd
}

// client holds the in-process token machinery used by the token and call
// commands.
type client struct {
	baseURL string
	auth    auth.Config
	tokens  *tokenmanager.Manager
	http    *http.Client
}

func newClient(ctx context.Context) (*client, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("configuration load failed: %w", err)
	}

	cm := cache.NewManager(cache.Config{
		MaxSize:    cfg.Cache.MaxSize,
		DefaultTTL: cfg.Cache.DefaultTTL,
	})

	if cfg.Cache.WarmupFile != "" {
		pinned, err := cache.LoadWarmupFile(cfg.Cache.WarmupFile)
		if err != nil {
			return nil, err
		}
		if err := cm.WarmupCache(ctx, pinned); err != nil {
			return nil, err
		}
	}

	platform := &http.Client{
		Timeout: time.Duration(cfg.Server.OutgoingHTTPTimeoutSeconds) * time.Second,
	}

	tokens := tokenmanager.New(cm, tokenmanager.NewHTTPFetcher(cfg.App.BaseURL, platform),
		tokenmanager.WithRefreshSkew(cfg.Cache.RefreshSkew),
	)

	authCfg := auth.Config{
		AppID:            cfg.App.ID,
		AppSecret:        cfg.App.Secret,
		AppType:          tokenmanager.AppType(cfg.App.Type),
		EnableTokenCache: cfg.Cache.Enabled,
		TokenManager:     tokens,
	}

	return &client{
		baseURL: strings.TrimSuffix(cfg.App.BaseURL, "/"),
		auth:    authCfg,
		tokens:  tokens,
		http: &http.Client{
			Transport: &auth.Transport{Config: authCfg},
			Timeout:   platform.Timeout,
		},
	}, nil
}

func (c *client) credentials() tokenmanager.Credentials {
	return tokenmanager.Credentials{
		AppID:     c.auth.AppID,
		AppSecret: c.auth.AppSecret,
		AppType:   c.auth.AppType,
	}
}
