package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/chinmina/tenant-token-bridge/internal/cache"
	"github.com/chinmina/tenant-token-bridge/internal/clock"
	"github.com/chinmina/tenant-token-bridge/internal/config"
	"github.com/chinmina/tenant-token-bridge/internal/jwt"
	"github.com/chinmina/tenant-token-bridge/internal/observe"
	"github.com/chinmina/tenant-token-bridge/internal/server"
	"github.com/chinmina/tenant-token-bridge/internal/tokenmanager"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justinas/alice"
)

// services are the long-lived components shared by every route.
type services struct {
	cache   *cache.Manager
	tokens  *tokenmanager.Manager
	tickets *tokenmanager.MemoryAppTicketManager
	creds   tokenmanager.Credentials
	clock   clock.Clock

	tokenCacheEnabled bool
}

func newServices(cfg config.Config, client *http.Client, clk clock.Clock) *services {
	cm := cache.NewManager(cache.Config{
		MaxSize:    cfg.Cache.MaxSize,
		DefaultTTL: cfg.Cache.DefaultTTL,
	}, cache.WithClock(clk))

	fetcher := tokenmanager.NewHTTPFetcher(cfg.App.BaseURL, client)

	return &services{
		cache: cm,
		tokens: tokenmanager.New(cm, fetcher,
			tokenmanager.WithClock(clk),
			tokenmanager.WithRefreshSkew(cfg.Cache.RefreshSkew),
		),
		tickets: tokenmanager.NewMemoryAppTicketManager(clk),
		creds: tokenmanager.Credentials{
			AppID:     cfg.App.ID,
			AppSecret: cfg.App.Secret,
			AppType:   tokenmanager.AppType(cfg.App.Type),
		},
		clock:             clk,
		tokenCacheEnabled: cfg.Cache.Enabled,
	}
}

// configureServerRoutes registers the diagnostics routes. A nil authorizer
// leaves every route open; the healthcheck is always open.
func configureServerRoutes(svc *services, authorizer func(http.Handler) http.Handler) http.Handler {
	// HTTP telemetry is configured by default for each route
	mux := observe.NewMux()

	// The request body size is fairly limited to prevent accidental or
	// deliberate abuse. Given the current API shape, this is not configurable.
	requestLimitBytes := int64(20 << 10) // 20 KB
	standardRouteMiddleware := alice.New(maxRequestSize(requestLimitBytes))

	authorizedRouteMiddleware := standardRouteMiddleware
	if authorizer != nil {
		authorizedRouteMiddleware = standardRouteMiddleware.Append(authorizer)
	} else {
		log.Warn().Msg("JWT authorization disabled: diagnostics routes are unauthenticated")
	}

	if svc.tokenCacheEnabled {
		mux.Handle("POST /token/{type}", authorizedRouteMiddleware.Then(handlePostToken(svc.tokens, svc.creds, svc.tickets, svc.clock)))
	} else {
		log.Info().Msg("token cache disabled: token acquisition route not registered")
	}

	mux.Handle("POST /app-ticket", authorizedRouteMiddleware.Then(handlePostAppTicket(svc.tickets)))

	mux.Handle("GET /cache/metrics", authorizedRouteMiddleware.Then(handleCacheMetrics(svc.cache)))
	mux.Handle("GET /cache/keys", authorizedRouteMiddleware.Then(handleListCacheKeys(svc.cache)))
	mux.Handle("DELETE /cache/keys", authorizedRouteMiddleware.Then(handleRemoveCacheKeys(svc.cache)))
	mux.Handle("POST /cache/cleanup", authorizedRouteMiddleware.Then(handleCacheCleanup(svc.cache)))
	mux.Handle("GET /cache/config", authorizedRouteMiddleware.Then(handleGetCacheConfig(svc.cache)))
	mux.Handle("PUT /cache/config", authorizedRouteMiddleware.Then(handlePutCacheConfig(svc.cache)))

	// healthchecks are not included in telemetry
	mux.HandleUntraced("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	return mux
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	hooks := &server.ShutdownHooks{}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	client := &http.Client{
		Transport: http.DefaultTransport,
		Timeout:   time.Duration(cfg.Server.OutgoingHTTPTimeoutSeconds) * time.Second,
	}

	svc := newServices(cfg, client, clock.System{})

	if cfg.Cache.WarmupFile != "" {
		tokens, err := cache.LoadWarmupFile(cfg.Cache.WarmupFile)
		if err != nil {
			return fmt.Errorf("token cache warmup failed: %w", err)
		}
		if err := svc.cache.WarmupCache(ctx, tokens); err != nil {
			return fmt.Errorf("token cache warmup failed: %w", err)
		}
	}

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	go svc.cache.RunSweeper(sweepCtx, cfg.Cache.SweepInterval)
	hooks.Add("cache-sweeper", stopSweeper)
	hooks.AddContext("token-cache", svc.cache.Close)

	var authorizer func(http.Handler) http.Handler
	if cfg.Authorization.Enabled {
		authorizer, err = jwt.Middleware(cfg.Authorization)
		if err != nil {
			return fmt.Errorf("authorizer configuration failed: %w", err)
		}
	}

	handler := configureServerRoutes(svc, authorizer)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen failed: %w", err)
	}

	httpServer := &http.Server{
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	// telemetry is flushed last so that shutdown of the other parts is recorded
	hooks.AddContext("telemetry", shutdownTelemetry)

	err = server.Serve(ctx, httpServer, listener, time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second, hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
