package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	App           AppConfig
	Authorization AuthorizationConfig
	Cache         CacheConfig
	Observe       ObserveConfig
	Server        ServerConfig
}

// AuthorizationConfig controls JWT verification on the diagnostics routes.
type AuthorizationConfig struct {
	// Enabled requires a valid bearer JWT on every route except the
	// healthcheck.
	Enabled   bool   `env:"JWT_ENABLED, default=false"`
	Audience  string `env:"JWT_AUDIENCE, default=tenant-token-bridge"`
	IssuerURL string `env:"JWT_ISSUER_URL"`

	// JWKSURL overrides the key set location found by OIDC discovery on the
	// issuer.
	JWKSURL string `env:"JWT_JWKS_URL"`

	ConfigurationStatic string `env:"JWT_JWKS_STATIC"`
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
	OutgoingHTTPTimeoutSeconds  int `env:"SERVER_OUTGOING_TIMEOUT_SECS, default=10"`
}

// AppConfig identifies the platform app that tokens are issued to.
type AppConfig struct {
	ID     string `env:"APP_ID, required"`
	Secret string `env:"APP_SECRET, required"`

	// Type is "self_built" (default) or "marketplace".
	Type string `env:"APP_TYPE, default=self_built"`

	BaseURL string `env:"APP_BASE_URL, default=https://open.feishu.cn"`
}

// CacheConfig specifies token cache configuration.
type CacheConfig struct {
	// Enabled allows tokens to be acquired and cached on demand. When false,
	// every request must carry its own token.
	Enabled bool `env:"TOKEN_CACHE_ENABLED, default=true"`

	// RefreshSkew is subtracted from each token's lifetime so that it is
	// refreshed before the platform expires it.
	RefreshSkew time.Duration `env:"TOKEN_REFRESH_SKEW, default=3m"`

	// MaxSize bounds the number of cached tokens. Zero is unbounded.
	MaxSize int `env:"CACHE_MAX_SIZE, default=0"`

	DefaultTTL    time.Duration `env:"CACHE_DEFAULT_TTL, default=110m"`
	SweepInterval time.Duration `env:"CACHE_SWEEP_INTERVAL, default=5m"`

	// WarmupFile is an optional YAML file of tokens loaded at startup.
	WarmupFile string `env:"CACHE_WARMUP_FILE"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=tenant-token-bridge"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.App.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid app configuration: %w", err)
	}

	err = cfg.Authorization.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid authorization configuration: %w", err)
	}

	err = cfg.Cache.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	err = cfg.Observe.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid observability configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the app configuration is usable.
func (c *AppConfig) Validate() error {
	if c.ID == "" || c.Secret == "" {
		return fmt.Errorf("APP_ID and APP_SECRET must not be empty")
	}

	if c.Type != "self_built" && c.Type != "marketplace" {
		return fmt.Errorf("APP_TYPE must be self_built or marketplace, got %q", c.Type)
	}

	if c.BaseURL == "" {
		return fmt.Errorf("APP_BASE_URL must not be empty")
	}

	return nil
}

// Validate checks that an enabled authorizer has an issuer to verify against.
func (c *AuthorizationConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.IssuerURL == "" {
		return fmt.Errorf("JWT_ISSUER_URL is required when JWT_ENABLED is set")
	}

	if c.Audience == "" {
		return fmt.Errorf("JWT_AUDIENCE must not be empty")
	}

	return nil
}

// Validate checks that the cache configuration is valid.
func (c *CacheConfig) Validate() error {
	if c.MaxSize < 0 {
		return fmt.Errorf("CACHE_MAX_SIZE must not be negative")
	}

	if c.DefaultTTL <= 0 {
		return fmt.Errorf("CACHE_DEFAULT_TTL must be positive")
	}

	if c.SweepInterval <= 0 {
		return fmt.Errorf("CACHE_SWEEP_INTERVAL must be positive")
	}

	if c.RefreshSkew < 0 {
		return fmt.Errorf("TOKEN_REFRESH_SKEW must not be negative")
	}

	return nil
}

func (c *ObserveConfig) Validate() error {
	if c.Type != "grpc" && c.Type != "stdout" {
		return fmt.Errorf("OBSERVE_TYPE must be grpc or stdout, got %q", c.Type)
	}
	return nil
}
