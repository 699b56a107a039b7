package cache

import (
	"context"
	"sync"
	"time"

	"github.com/chinmina/tenant-token-bridge/internal/token"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce     sync.Once
	cacheOperations metric.Int64Counter
	cacheDuration   metric.Float64Histogram
	cacheSwept      metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/chinmina/tenant-token-bridge/internal/cache")

		var err error
		cacheOperations, err = meter.Int64Counter(
			"cache.operations",
			metric.WithDescription("Total cache operations"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheDuration, err = meter.Float64Histogram(
			"cache.operation.duration",
			metric.WithDescription("Cache operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheSwept, err = meter.Int64Counter(
			"cache.swept",
			metric.WithDescription("Expired entries removed by cleanup sweeps"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented wraps a TokenCache with metrics instrumentation. Cache
// operations carry no context, so measurements are recorded against the
// background context.
type Instrumented struct {
	TokenCache
	cacheType string
}

// NewInstrumented creates an instrumented cache wrapper.
func NewInstrumented(cache TokenCache, cacheType string) *Instrumented {
	initMetrics()
	return &Instrumented{
		TokenCache: cache,
		cacheType:  cacheType,
	}
}

func (i *Instrumented) Get(key string) (token.TokenInfo, bool) {
	start := time.Now()

	tok, found := i.TokenCache.Get(key)

	i.recordDuration("get", time.Since(start))

	status := "miss"
	if found {
		status = "hit"
	}
	i.recordOperation("get", status)

	return tok, found
}

func (i *Instrumented) Put(key string, tok token.TokenInfo) {
	start := time.Now()
	i.TokenCache.Put(key, tok)
	i.recordDuration("set", time.Since(start))
	i.recordOperation("set", "success")
}

func (i *Instrumented) PutWithTTL(key string, tok token.TokenInfo, ttl time.Duration) {
	start := time.Now()
	i.TokenCache.PutWithTTL(key, tok, ttl)
	i.recordDuration("set", time.Since(start))
	i.recordOperation("set", "success")
}

func (i *Instrumented) Remove(key string) {
	start := time.Now()
	i.TokenCache.Remove(key)
	i.recordDuration("invalidate", time.Since(start))
	i.recordOperation("invalidate", "success")
}

func (i *Instrumented) Clear() {
	i.TokenCache.Clear()
	i.recordOperation("clear", "success")
}

func (i *Instrumented) CleanupExpired() int {
	start := time.Now()

	removed := i.TokenCache.CleanupExpired()

	i.recordDuration("cleanup", time.Since(start))
	i.recordOperation("cleanup", "success")
	if cacheSwept != nil {
		cacheSwept.Add(context.Background(), int64(removed),
			metric.WithAttributes(attribute.String("cache.type", i.cacheType)),
		)
	}

	return removed
}

func (i *Instrumented) recordOperation(operation, status string) {
	if cacheOperations == nil {
		return
	}
	cacheOperations.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("cache.type", i.cacheType),
			attribute.String("cache.operation", operation),
			attribute.String("cache.status", status),
		),
	)
}

func (i *Instrumented) recordDuration(operation string, duration time.Duration) {
	if cacheDuration == nil {
		return
	}
	cacheDuration.Record(context.Background(), duration.Seconds(),
		metric.WithAttributes(
			attribute.String("cache.type", i.cacheType),
			attribute.String("cache.operation", operation),
		),
	)
}
