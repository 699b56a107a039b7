// Package auth attaches access tokens to outbound platform API requests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/chinmina/tenant-token-bridge/internal/tokenmanager"
	"github.com/rs/zerolog/log"
)

// AccessTokenType selects how the token for a request is resolved. It is
// fixed by the endpoint being called.
type AccessTokenType int

const (
	None AccessTokenType = iota
	App
	Tenant
	User
)

func (t AccessTokenType) String() string {
	switch t {
	case None:
		return "none"
	case App:
		return "app"
	case Tenant:
		return "tenant"
	case User:
		return "user"
	}
	return fmt.Sprintf("AccessTokenType(%d)", int(t))
}

// ParseAccessTokenType is the inverse of String.
func ParseAccessTokenType(s string) (AccessTokenType, error) {
	for _, t := range []AccessTokenType{None, App, Tenant, User} {
		if t.String() == s {
			return t, nil
		}
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownAccessTokenType, s)
}

var (
	// ErrMissingAccessToken is returned when an app or tenant token is needed,
	// none was supplied with the request, and token caching is disabled.
	ErrMissingAccessToken = errors.New("access token missing: supply one with the request or enable the token cache")

	ErrUnknownAccessTokenType = errors.New("unknown access token type")
)

// RequestOption carries per-request overrides. Empty strings mean "not
// supplied".
type RequestOption struct {
	AppAccessToken    string
	TenantAccessToken string
	UserAccessToken   string
	TenantKey         string
	AppTicket         string
}

// TokenManager acquires app and tenant tokens on demand.
type TokenManager interface {
	GetAppAccessToken(ctx context.Context, creds tokenmanager.Credentials, appTicket string, tickets tokenmanager.AppTicketManager) (string, error)
	GetTenantAccessToken(ctx context.Context, creds tokenmanager.Credentials, tenantKey string, appTicket string, tickets tokenmanager.AppTicketManager) (string, error)
}

// Config is the client configuration shared by every request.
type Config struct {
	AppID     string
	AppSecret string
	AppType   tokenmanager.AppType

	EnableTokenCache bool
	TokenManager     TokenManager
	AppTicketManager tokenmanager.AppTicketManager
}

func (c Config) credentials() tokenmanager.Credentials {
	return tokenmanager.Credentials{
		AppID:     c.AppID,
		AppSecret: c.AppSecret,
		AppType:   c.AppType,
	}
}

// Handler resolves the token for a request and sets its Authorization
// header. It holds no state.
type Handler struct{}

// ApplyAuth returns req authenticated according to typ. Requests of type
// None are returned as is; all others are cloned and given an
// "Authorization: Bearer <token>" header, even when the token is empty.
//
// Errors from the token manager are returned unchanged.
func (Handler) ApplyAuth(ctx context.Context, req *http.Request, typ AccessTokenType, cfg Config, opt RequestOption) (*http.Request, error) {
	var token string
	var err error

	switch typ {
	case None:
		return req, nil

	case App:
		token, err = resolve(opt.AppAccessToken, cfg, func(tm TokenManager) (string, error) {
			return tm.GetAppAccessToken(ctx, cfg.credentials(), opt.AppTicket, cfg.AppTicketManager)
		})

	case Tenant:
		token, err = resolve(opt.TenantAccessToken, cfg, func(tm TokenManager) (string, error) {
			return tm.GetTenantAccessToken(ctx, cfg.credentials(), opt.TenantKey, opt.AppTicket, cfg.AppTicketManager)
		})

	case User:
		// user tokens belong to the caller and are never cached
		token = opt.UserAccessToken

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownAccessTokenType, int(typ))
	}

	if err != nil {
		return nil, err
	}

	if token == "" {
		log.Ctx(ctx).Debug().Stringer("type", typ).Msg("auth: attaching empty bearer token")
	}

	authed := req.Clone(ctx)
	authed.Header.Set("Authorization", "Bearer "+token)

	return authed, nil
}

func resolve(override string, cfg Config, fromManager func(TokenManager) (string, error)) (string, error) {
	if override != "" {
		return override, nil
	}

	if !cfg.EnableTokenCache {
		return "", ErrMissingAccessToken
	}

	if cfg.TokenManager == nil {
		return "", fmt.Errorf("%w: token cache enabled without a token manager", ErrMissingAccessToken)
	}

	return fromManager(cfg.TokenManager)
}
