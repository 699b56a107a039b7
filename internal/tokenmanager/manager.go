package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chinmina/tenant-token-bridge/internal/clock"
	"github.com/chinmina/tenant-token-bridge/internal/token"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const defaultRefreshSkew = 3 * time.Minute

// Cache is the part of the cache manager that token acquisition uses.
type Cache interface {
	GetToken(ctx context.Context, key string) (token.TokenInfo, bool, error)
	PeekToken(ctx context.Context, key string) (token.TokenInfo, bool, error)
	PutTokenWithTTL(ctx context.Context, key string, tok token.TokenInfo, ttl time.Duration) error
}

// Manager acquires app and tenant access tokens, serving them from the cache
// while they are live.
//
// Concurrent cache misses for the same key share a single remote fetch;
// misses for different keys fetch in parallel. Failed fetches are never
// cached.
type Manager struct {
	cache       Cache
	fetcher     Fetcher
	clock       clock.Clock
	refreshSkew time.Duration
	tracer      trace.Tracer

	flights singleflight.Group
}

type Option func(*Manager)

func WithClock(clk clock.Clock) Option {
	return func(m *Manager) {
		m.clock = clk
	}
}

// WithRefreshSkew shortens the cached lifetime of every token by skew, so it
// is refreshed before the issuer considers it expired. Tokens that live
// shorter than the skew are cached for their full lifetime.
func WithRefreshSkew(skew time.Duration) Option {
	return func(m *Manager) {
		m.refreshSkew = skew
	}
}

func New(cache Cache, fetcher Fetcher, opts ...Option) *Manager {
	m := &Manager{
		cache:       cache,
		fetcher:     fetcher,
		clock:       clock.System{},
		refreshSkew: defaultRefreshSkew,
		tracer:      otel.Tracer("github.com/chinmina/tenant-token-bridge/internal/tokenmanager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetAppAccessToken returns a live app access token for creds. Marketplace
// apps need an app ticket: appTicket is used when supplied, otherwise tickets
// is consulted (it may be nil).
func (m *Manager) GetAppAccessToken(ctx context.Context, creds Credentials, appTicket string, tickets AppTicketManager) (string, error) {
	tok, err := m.AppToken(ctx, creds, appTicket, tickets)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// GetTenantAccessToken returns a live tenant access token issued to creds for
// tenantKey. Self-built apps have a single tenant and pass an empty key.
func (m *Manager) GetTenantAccessToken(ctx context.Context, creds Credentials, tenantKey string, appTicket string, tickets AppTicketManager) (string, error) {
	tok, err := m.TenantToken(ctx, creds, tenantKey, appTicket, tickets)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// TenantToken is GetTenantAccessToken returning the full cached token.
func (m *Manager) TenantToken(ctx context.Context, creds Credentials, tenantKey string, appTicket string, tickets AppTicketManager) (token.TokenInfo, error) {
	key := token.TenantAccessTokenKey(creds.AppID, tenantKey)

	return m.cached(ctx, key, func(ctx context.Context) (Issued, error) {
		req := TenantTokenRequest{
			Credentials: creds,
			TenantKey:   tenantKey,
		}

		if creds.marketplace() {
			appTok, err := m.AppToken(ctx, creds, appTicket, tickets)
			if err != nil {
				return Issued{}, err
			}
			req.AppAccessToken = appTok.AccessToken
		}

		return m.fetcher.FetchTenantAccessToken(ctx, req)
	}, func(issued Issued, now time.Time) token.TokenInfo {
		return token.TokenInfo{
			AccessToken: issued.AccessToken,
			TokenType:   token.TenantAccessToken,
			IssuedAt:    now,
			TTL:         issued.Expire,
			OwnerAppID:  creds.AppID,
			TenantKey:   tenantKey,
		}
	})
}

// AppToken is GetAppAccessToken returning the full cached token.
func (m *Manager) AppToken(ctx context.Context, creds Credentials, appTicket string, tickets AppTicketManager) (token.TokenInfo, error) {
	key := token.AppAccessTokenKey(creds.AppID)

	return m.cached(ctx, key, func(ctx context.Context) (Issued, error) {
		req := AppTokenRequest{Credentials: creds}

		if creds.marketplace() {
			ticket, err := m.resolveAppTicket(ctx, creds, appTicket, tickets)
			if err != nil {
				return Issued{}, err
			}
			req.AppTicket = ticket
		}

		return m.fetcher.FetchAppAccessToken(ctx, req)
	}, func(issued Issued, now time.Time) token.TokenInfo {
		return token.TokenInfo{
			AccessToken: issued.AccessToken,
			TokenType:   token.AppAccessToken,
			IssuedAt:    now,
			TTL:         issued.Expire,
			OwnerAppID:  creds.AppID,
		}
	})
}

func (m *Manager) resolveAppTicket(ctx context.Context, creds Credentials, appTicket string, tickets AppTicketManager) (string, error) {
	if appTicket != "" {
		return appTicket, nil
	}

	if tickets != nil {
		ticket, err := tickets.Get(ctx)
		if err == nil && ticket != "" {
			return ticket, nil
		}
		if err != nil && !errors.Is(err, ErrAppTicketMissing) {
			return "", fmt.Errorf("reading app ticket: %w", err)
		}
	}

	// The platform pushes tickets on its own schedule; asking for a resend
	// gets one delivered to the callback sooner.
	if err := m.fetcher.ResendAppTicket(ctx, creds); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("app_id", creds.AppID).Msg("app ticket resend request failed")
	} else {
		log.Ctx(ctx).Info().Str("app_id", creds.AppID).Msg("app ticket missing: resend requested")
	}

	return "", ErrAppTicketMissing
}

// cached returns the live token for key, or fetches, stores and returns a
// new one. Only one fetch per key is in flight at a time.
func (m *Manager) cached(
	ctx context.Context,
	key string,
	fetch func(context.Context) (Issued, error),
	build func(Issued, time.Time) token.TokenInfo,
) (token.TokenInfo, error) {
	if tok, found, err := m.cache.GetToken(ctx, key); err != nil {
		return token.TokenInfo{}, fmt.Errorf("token cache lookup failed: %w", err)
	} else if found {
		return tok, nil
	}

	// The flight runs detached from the caller's cancellation: other callers
	// may be waiting on it. A cancelled caller stops waiting and gets its
	// context error; the token, once fetched, is still stored whole.
	flightCtx := context.WithoutCancel(ctx)
	ch := m.flights.DoChan(key, func() (any, error) {
		return m.fetchAndStore(flightCtx, key, fetch, build)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return token.TokenInfo{}, res.Err
		}
		return res.Val.(token.TokenInfo), nil
	case <-ctx.Done():
		return token.TokenInfo{}, ctx.Err()
	}
}

func (m *Manager) fetchAndStore(
	ctx context.Context,
	key string,
	fetch func(context.Context) (Issued, error),
	build func(Issued, time.Time) token.TokenInfo,
) (token.TokenInfo, error) {
	// A previous flight for this key may have completed between our miss
	// and this flight starting. The caller's miss is already counted.
	if tok, found, err := m.cache.PeekToken(ctx, key); err == nil && found {
		return tok, nil
	}

	ctx, span := m.tracer.Start(ctx, "token.fetch", trace.WithAttributes(attribute.String("token.cache_key", key)))
	defer span.End()

	issued, err := fetch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token fetch failed")
		log.Ctx(ctx).Info().Err(err).Str("key", key).Msg("token fetch failed")
		return token.TokenInfo{}, err
	}

	tok := build(issued, m.clock.Now())

	if err := m.cache.PutTokenWithTTL(ctx, key, tok, m.cacheTTL(issued.Expire)); err != nil {
		// the token is still good to use; it will be fetched again next time
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("token cache store failed")
	}

	log.Ctx(ctx).Info().
		Str("key", key).
		Time("expiry", tok.ExpiresAt()).
		Msg("miss: new token issued")

	return tok, nil
}

func (m *Manager) cacheTTL(expire time.Duration) time.Duration {
	if expire > m.refreshSkew {
		return expire - m.refreshSkew
	}
	return expire
}
