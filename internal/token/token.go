package token

import (
	"fmt"
	"time"
)

// Type identifies which kind of credential a TokenInfo holds.
type Type string

const (
	AppAccessToken    Type = "app_access_token"
	TenantAccessToken Type = "tenant_access_token"
)

// TokenInfo is a single issued credential and its validity window. It is a
// value type: a refreshed token is a new TokenInfo that replaces the cache
// entry, never an edit of an existing one.
type TokenInfo struct {
	AccessToken string        `json:"accessToken" yaml:"access_token"`
	TokenType   Type          `json:"tokenType" yaml:"token_type"`
	IssuedAt    time.Time     `json:"issuedAt" yaml:"issued_at"`
	TTL         time.Duration `json:"ttl" yaml:"ttl"`
	OwnerAppID  string        `json:"ownerAppId" yaml:"owner_app_id"`
	TenantKey   string        `json:"tenantKey,omitempty" yaml:"tenant_key,omitempty"`
}

// ExpiresAt is the instant the token stops being valid according to the
// issuer.
func (t TokenInfo) ExpiresAt() time.Time {
	return t.IssuedAt.Add(t.TTL)
}

// Expired reports whether the token is no longer valid at now.
func (t TokenInfo) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt())
}

// AppAccessTokenKey is the cache key for the app access token of appID.
func AppAccessTokenKey(appID string) string {
	return fmt.Sprintf("%s:%s", AppAccessToken, appID)
}

// TenantAccessTokenKey is the cache key for the tenant access token issued to
// appID on behalf of tenantKey. Self-built apps have no tenant key.
func TenantAccessTokenKey(appID, tenantKey string) string {
	return fmt.Sprintf("%s:%s:%s", TenantAccessToken, appID, tenantKey)
}
