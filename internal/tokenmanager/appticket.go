package tokenmanager

import (
	"context"
	"sync"
	"time"

	"github.com/chinmina/tenant-token-bridge/internal/clock"
	"github.com/rs/zerolog/log"
)

// appTicketValidity is how long a pushed app ticket is accepted for.
const appTicketValidity = 12 * time.Hour

// AppTicketManager holds the rotating app ticket that marketplace apps need to
// obtain an app access token.
type AppTicketManager interface {
	// Get returns the current ticket, or ErrAppTicketMissing.
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, ticket string) error
}

// MemoryAppTicketManager keeps the most recently pushed ticket in memory.
type MemoryAppTicketManager struct {
	mu        sync.RWMutex
	ticket    string
	expiresAt time.Time
	clock     clock.Clock
}

var _ AppTicketManager = (*MemoryAppTicketManager)(nil)

func NewMemoryAppTicketManager(clk clock.Clock) *MemoryAppTicketManager {
	if clk == nil {
		clk = clock.System{}
	}
	return &MemoryAppTicketManager{clock: clk}
}

func (m *MemoryAppTicketManager) Get(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.ticket == "" || !m.clock.Now().Before(m.expiresAt) {
		return "", ErrAppTicketMissing
	}
	return m.ticket, nil
}

// Set replaces the current ticket. An empty ticket clears it.
func (m *MemoryAppTicketManager) Set(ctx context.Context, ticket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ticket = ticket
	m.expiresAt = m.clock.Now().Add(appTicketValidity)

	log.Ctx(ctx).Info().Bool("present", ticket != "").Msg("app ticket: updated")
	return nil
}
