package cache

import (
	"time"

	"github.com/chinmina/tenant-token-bridge/internal/token"
)

// TokenCache is an in-process store of issued tokens keyed by an opaque
// string. Implementations are safe for concurrent use and none of the
// operations can fail.
type TokenCache interface {
	// Get returns the token stored under key. A token whose TTL has elapsed is
	// reported as not found even if it has not been swept yet. Every call
	// counts as either a hit or a miss.
	Get(key string) (token.TokenInfo, bool)

	// Peek is Get without touching the hit and miss counters.
	Peek(key string) (token.TokenInfo, bool)

	// Put stores a token using the cache's default TTL.
	Put(key string, tok token.TokenInfo)

	// PutWithTTL stores a token that expires ttl after insertion.
	PutWithTTL(key string, tok token.TokenInfo, ttl time.Duration)

	Remove(key string)
	Contains(key string) bool
	Clear()
	Size() int
	IsEmpty() bool

	// Keys returns every stored key in no particular order.
	Keys() []string

	// Entries returns the unexpired entries along with their insertion and
	// expiry times.
	Entries() []Entry

	// CleanupExpired eagerly removes every expired entry and returns how many
	// were removed. Get never depends on it having run.
	CleanupExpired() int

	Stats() Stats
}

// Entry is a point-in-time view of one cached token.
type Entry struct {
	Key        string
	Token      token.TokenInfo
	InsertedAt time.Time
	ExpiresAt  time.Time
}

// Stats is a snapshot of cache counters. Hits and Misses only ever increase
// for the lifetime of a cache instance.
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	CurrentSize int    `json:"current_size"`
}

// Config selects and sizes the cache engine.
type Config struct {
	// MaxSize bounds the number of entries. Zero means unbounded.
	MaxSize int

	// DefaultTTL applies to entries stored with Put.
	DefaultTTL time.Duration
}

// entry is the stored form of a token. expiresAt is fixed at insertion.
type entry struct {
	token      token.TokenInfo
	insertedAt time.Time
	expiresAt  time.Time
}

func (e entry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}
