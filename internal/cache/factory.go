package cache

import (
	"github.com/chinmina/tenant-token-bridge/internal/clock"
	"github.com/rs/zerolog/log"
)

// New creates a cache engine for the given configuration. An unbounded
// configuration uses the map engine; a MaxSize selects the otter-backed
// bounded engine. Both are instrumented.
func New(cfg Config, clk clock.Clock) TokenCache {
	if cfg.MaxSize > 0 {
		log.Debug().
			Str("cache_type", "bounded").
			Int("max_size", cfg.MaxSize).
			Dur("default_ttl", cfg.DefaultTTL).
			Msg("initializing token cache")

		return NewInstrumented(NewBounded(cfg.MaxSize, cfg.DefaultTTL, clk), "bounded")
	}

	log.Debug().
		Str("cache_type", "memory").
		Dur("default_ttl", cfg.DefaultTTL).
		Msg("initializing token cache")

	return NewInstrumented(NewMemory(cfg.DefaultTTL, clk), "memory")
}
