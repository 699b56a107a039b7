package cache

import (
	"sync/atomic"
	"time"

	"github.com/chinmina/tenant-token-bridge/internal/clock"
	"github.com/chinmina/tenant-token-bridge/internal/token"
	"github.com/maypok86/otter/v2"
)

// MemoryTokenCache is an in-memory TokenCache backed by otter.
//
// otter only stores entries and, when a size limit is set, evicts by its own
// admission policy, so a live token may be dropped and refetched later.
// Expiry is evaluated against the injected clock and expired entries stay in
// place until CleanupExpired removes them, which keeps sweep accounting
// exact.
type MemoryTokenCache struct {
	cache      *otter.Cache[string, entry]
	defaultTTL time.Duration
	clock      clock.Clock

	hits   atomic.Uint64
	misses atomic.Uint64
}

var _ TokenCache = (*MemoryTokenCache)(nil)

// NewMemory creates an unbounded cache. A nil clock uses the system clock.
func NewMemory(defaultTTL time.Duration, clk clock.Clock) *MemoryTokenCache {
	return newMemory(0, defaultTTL, clk)
}

// NewBounded creates a cache holding at most maxSize entries. A nil clock
// uses the system clock.
func NewBounded(maxSize int, defaultTTL time.Duration, clk clock.Clock) *MemoryTokenCache {
	return newMemory(maxSize, defaultTTL, clk)
}

func newMemory(maxSize int, defaultTTL time.Duration, clk clock.Clock) *MemoryTokenCache {
	if clk == nil {
		clk = clock.System{}
	}

	c := otter.Must(&otter.Options[string, entry]{
		MaximumSize: maxSize,
	})

	return &MemoryTokenCache{
		cache:      c,
		defaultTTL: defaultTTL,
		clock:      clk,
	}
}

func (m *MemoryTokenCache) Get(key string) (token.TokenInfo, bool) {
	e, ok := m.cache.GetIfPresent(key)
	if !ok || e.expired(m.clock.Now()) {
		m.misses.Add(1)
		return token.TokenInfo{}, false
	}

	m.hits.Add(1)
	return e.token, true
}

func (m *MemoryTokenCache) Peek(key string) (token.TokenInfo, bool) {
	e, ok := m.cache.GetIfPresent(key)
	if !ok || e.expired(m.clock.Now()) {
		return token.TokenInfo{}, false
	}
	return e.token, true
}

func (m *MemoryTokenCache) Put(key string, tok token.TokenInfo) {
	m.PutWithTTL(key, tok, m.defaultTTL)
}

func (m *MemoryTokenCache) PutWithTTL(key string, tok token.TokenInfo, ttl time.Duration) {
	now := m.clock.Now()
	m.cache.Set(key, entry{
		token:      tok,
		insertedAt: now,
		expiresAt:  now.Add(ttl),
	})
}

func (m *MemoryTokenCache) Remove(key string) {
	m.cache.Invalidate(key)
}

// Contains reports whether an unexpired entry exists for key. It does not
// affect the hit and miss counters.
func (m *MemoryTokenCache) Contains(key string) bool {
	_, ok := m.Peek(key)
	return ok
}

func (m *MemoryTokenCache) Clear() {
	m.cache.InvalidateAll()
}

// Size counts stored entries, including expired entries that have not been
// swept.
func (m *MemoryTokenCache) Size() int {
	n := 0
	for range m.cache.Keys() {
		n++
	}
	return n
}

func (m *MemoryTokenCache) IsEmpty() bool {
	return m.Size() == 0
}

func (m *MemoryTokenCache) Keys() []string {
	keys := []string{}
	for k := range m.cache.Keys() {
		keys = append(keys, k)
	}
	return keys
}

func (m *MemoryTokenCache) Entries() []Entry {
	now := m.clock.Now()

	entries := []Entry{}
	for k, e := range m.cache.All() {
		if e.expired(now) {
			continue
		}
		entries = append(entries, Entry{
			Key:        k,
			Token:      e.token,
			InsertedAt: e.insertedAt,
			ExpiresAt:  e.expiresAt,
		})
	}
	return entries
}

func (m *MemoryTokenCache) CleanupExpired() int {
	now := m.clock.Now()

	removed := 0
	for _, k := range m.Keys() {
		// the expiry check and removal share otter's bucket lock, so a token
		// refreshed since Keys was read is left alone
		m.cache.ComputeIfPresent(k, func(e entry) (entry, otter.ComputeOp) {
			if !e.expired(now) {
				return e, otter.CancelOp
			}
			removed++
			return e, otter.InvalidateOp
		})
	}

	return removed
}

func (m *MemoryTokenCache) Stats() Stats {
	return Stats{
		Hits:        m.hits.Load(),
		Misses:      m.misses.Load(),
		CurrentSize: m.Size(),
	}
}
