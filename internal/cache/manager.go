package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chinmina/tenant-token-bridge/internal/clock"
	"github.com/chinmina/tenant-token-bridge/internal/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// estimatedEntryBytes is the per-entry figure used for the memory usage
// estimate. It is a rough allowance for the key, the token string and the
// entry bookkeeping, not a measurement.
const estimatedEntryBytes = 512

// Manager is the entry point the rest of the system uses for token caching.
// It owns one cache engine, which UpdateConfig may replace.
//
// Every method returns an error so that a remote backend can be introduced
// without changing callers; the in-memory engines never fail.
type Manager struct {
	mu     sync.RWMutex
	engine TokenCache
	config Config
	clock  clock.Clock

	meterProvider metric.MeterProvider
	sizeGauge     metric.Registration
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock sets the clock used for entry expiry.
func WithClock(clk clock.Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = clk
	}
}

// WithMeterProvider sets the provider the cache.size gauge is reported to.
// The global provider is used by default.
func WithMeterProvider(mp metric.MeterProvider) ManagerOption {
	return func(m *Manager) {
		m.meterProvider = mp
	}
}

// NewManager creates a manager with an empty engine built from cfg.
func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		config:        cfg,
		clock:         clock.System{},
		meterProvider: otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.engine = New(cfg, m.clock)
	m.registerSizeGauge()

	return m
}

// KeyedToken pairs a cache key with the token to store under it.
type KeyedToken struct {
	Key   string
	Token token.TokenInfo
}

// BatchResult is the outcome of one lookup in a batch.
type BatchResult struct {
	Token token.TokenInfo
	Found bool
	Err   error
}

// PerformanceMetrics summarises the state of the cache for diagnostics.
type PerformanceMetrics struct {
	TotalItems int     `json:"total_items"`
	HitCount   uint64  `json:"hit_count"`
	MissCount  uint64  `json:"miss_count"`
	HitRate    float64 `json:"hit_rate"`

	// MemoryUsageEstimate is approximate: entry count multiplied by a fixed
	// per-entry allowance.
	MemoryUsageEstimate int64 `json:"memory_usage_estimate"`

	// OldestTokenAge is the time since the oldest live entry was inserted,
	// or nil when it is unknown (an empty cache).
	OldestTokenAge *time.Duration `json:"oldest_token_age,omitempty"`
}

func (m *Manager) current() TokenCache {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine
}

func (m *Manager) GetToken(ctx context.Context, key string) (token.TokenInfo, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tok, found := m.engine.Get(key)

	status := "miss"
	if found {
		status = "hit"
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("cache.get.status", status))

	return tok, found, nil
}

// PeekToken looks up a live token without counting a hit or a miss.
func (m *Manager) PeekToken(ctx context.Context, key string) (token.TokenInfo, bool, error) {
	tok, found := m.current().Peek(key)
	return tok, found, nil
}

func (m *Manager) PutToken(ctx context.Context, key string, tok token.TokenInfo) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.engine.Put(key, tok)
	return nil
}

func (m *Manager) PutTokenWithTTL(ctx context.Context, key string, tok token.TokenInfo, ttl time.Duration) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.engine.PutWithTTL(key, tok, ttl)
	return nil
}

func (m *Manager) RemoveToken(ctx context.Context, key string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.engine.Remove(key)
	return nil
}

func (m *Manager) ContainsToken(ctx context.Context, key string) (bool, error) {
	return m.current().Contains(key), nil
}

func (m *Manager) ClearCache(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.engine.Clear()
	log.Ctx(ctx).Info().Msg("token cache: cleared")
	return nil
}

func (m *Manager) GetCacheSize(ctx context.Context) (int, error) {
	return m.current().Size(), nil
}

func (m *Manager) IsCacheEmpty(ctx context.Context) (bool, error) {
	return m.current().IsEmpty(), nil
}

// CleanupExpiredTokens sweeps expired entries and returns the number
// removed.
func (m *Manager) CleanupExpiredTokens(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	removed := m.engine.CleanupExpired()

	level := zerolog.DebugLevel
	if removed > 0 {
		level = zerolog.InfoLevel
	}
	log.Ctx(ctx).WithLevel(level).Int("removed", removed).Int("remaining", m.engine.Size()).Msg("token cache: expired entries swept")

	return removed, nil
}

func (m *Manager) GetCacheStats(ctx context.Context) (Stats, error) {
	return m.current().Stats(), nil
}

// GetHitRate is hits / (hits + misses), or 0 when no lookups have happened.
func (m *Manager) GetHitRate(ctx context.Context) (float64, error) {
	return hitRate(m.current().Stats()), nil
}

func hitRate(s Stats) float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// BatchGetTokens looks up each key independently. The result has the same
// length and order as keys.
func (m *Manager) BatchGetTokens(ctx context.Context, keys []string) []BatchResult {
	results := make([]BatchResult, len(keys))
	for i, key := range keys {
		tok, found, err := m.GetToken(ctx, key)
		results[i] = BatchResult{Token: tok, Found: found, Err: err}
	}
	return results
}

// BatchPutTokens stores each pair in order. The batch is not atomic: a
// failure part way through leaves the earlier pairs stored.
func (m *Manager) BatchPutTokens(ctx context.Context, pairs []KeyedToken) error {
	for _, p := range pairs {
		if err := m.PutToken(ctx, p.Key, p.Token); err != nil {
			return err
		}
	}
	return nil
}

// GetCacheKeysByPattern returns every key that contains pattern as a plain
// substring.
func (m *Manager) GetCacheKeysByPattern(ctx context.Context, pattern string) ([]string, error) {
	matched := []string{}
	for _, key := range m.current().Keys() {
		if strings.Contains(key, pattern) {
			matched = append(matched, key)
		}
	}
	return matched, nil
}

// RemoveCacheByPattern removes every key matching pattern. Matching happens
// once up front; each matched key is then removed and counted even if it
// expired in between.
func (m *Manager) RemoveCacheByPattern(ctx context.Context, pattern string) (int, error) {
	keys, err := m.GetCacheKeysByPattern(ctx, pattern)
	if err != nil {
		return 0, err
	}

	for _, key := range keys {
		if err := m.RemoveToken(ctx, key); err != nil {
			return 0, err
		}
	}

	log.Ctx(ctx).Info().Str("pattern", pattern).Int("removed", len(keys)).Msg("token cache: entries removed by pattern")

	return len(keys), nil
}

// WarmupCache stores tokens with the default TTL, typically at startup.
// Tokens that declare a lifetime which has already run out are skipped.
func (m *Manager) WarmupCache(ctx context.Context, tokens map[string]token.TokenInfo) error {
	now := m.clock.Now()

	stored := 0
	for key, tok := range tokens {
		if tok.TTL > 0 && tok.Expired(now) {
			log.Ctx(ctx).Warn().Str("key", key).Time("expiry", tok.ExpiresAt()).Msg("token cache: skipping expired warmup token")
			continue
		}
		if err := m.PutToken(ctx, key, tok); err != nil {
			return err
		}
		stored++
	}

	log.Ctx(ctx).Info().Int("tokens", stored).Msg("token cache: warmed up")
	return nil
}

func (m *Manager) GetPerformanceMetrics(ctx context.Context) (PerformanceMetrics, error) {
	engine := m.current()
	stats := engine.Stats()

	metrics := PerformanceMetrics{
		TotalItems:          stats.CurrentSize,
		HitCount:            stats.Hits,
		MissCount:           stats.Misses,
		HitRate:             hitRate(stats),
		MemoryUsageEstimate: int64(stats.CurrentSize) * estimatedEntryBytes,
	}

	var oldest time.Time
	for _, e := range engine.Entries() {
		if oldest.IsZero() || e.InsertedAt.Before(oldest) {
			oldest = e.InsertedAt
		}
	}
	if !oldest.IsZero() {
		age := m.clock.Now().Sub(oldest)
		metrics.OldestTokenAge = &age
	}

	return metrics, nil
}

// Config returns the configuration of the current engine.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// UpdateConfig replaces the engine with one built from cfg, carrying over
// every live entry with its remaining lifetime. The swap happens under the
// manager's write lock, so no concurrent read or write observes a partial
// state. Hit and miss counters start again from zero.
func (m *Manager) UpdateConfig(ctx context.Context, cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	entries := m.engine.Entries()

	next := New(cfg, m.clock)
	for _, e := range entries {
		next.PutWithTTL(e.Key, e.Token, e.ExpiresAt.Sub(now))
	}

	m.engine = next
	m.config = cfg

	log.Ctx(ctx).Info().
		Int("max_size", cfg.MaxSize).
		Dur("default_ttl", cfg.DefaultTTL).
		Int("carried_over", len(entries)).
		Msg("token cache: configuration updated")

	return nil
}

// RunSweeper removes expired entries every interval until ctx is done. The
// sweep only reclaims memory; lookups never rely on it.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("recover", r).Msg("token cache: sweeper failed")
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = m.CleanupExpiredTokens(ctx)
		case <-ctx.Done():
			log.Info().Msg("token cache: sweeper shutting down")
			return
		}
	}
}

func (m *Manager) registerSizeGauge() {
	meter := m.meterProvider.Meter("github.com/chinmina/tenant-token-bridge/internal/cache")

	gauge, err := meter.Int64ObservableGauge(
		"cache.size",
		metric.WithDescription("Entries currently held by the token cache"),
	)
	if err != nil {
		otel.Handle(err)
		return
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, int64(m.current().Size()))
		return nil
	}, gauge)
	if err != nil {
		otel.Handle(err)
		return
	}

	m.sizeGauge = reg
}

// Close stops reporting the cache.size metric for this manager. The cache
// itself stays usable.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	reg := m.sizeGauge
	m.sizeGauge = nil
	m.mu.Unlock()

	if reg == nil {
		return nil
	}

	return reg.Unregister()
}
