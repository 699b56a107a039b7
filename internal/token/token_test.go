package token_test

import (
	"testing"
	"time"

	"github.com/chinmina/tenant-token-bridge/internal/token"
	"github.com/stretchr/testify/assert"
)

func TestTokenInfo_Expiry(t *testing.T) {
	issued := time.Date(2024, time.May, 7, 17, 0, 0, 0, time.UTC)
	tok := token.TokenInfo{
		AccessToken: "t-abc",
		TokenType:   token.TenantAccessToken,
		IssuedAt:    issued,
		TTL:         2 * time.Hour,
	}

	assert.Equal(t, issued.Add(2*time.Hour), tok.ExpiresAt())
	assert.False(t, tok.Expired(issued))
	assert.False(t, tok.Expired(issued.Add(2*time.Hour-time.Nanosecond)))
	assert.True(t, tok.Expired(issued.Add(2*time.Hour)))
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "app_access_token:cli_123", token.AppAccessTokenKey("cli_123"))
	assert.Equal(t, "tenant_access_token:cli_123:tenant1", token.TenantAccessTokenKey("cli_123", "tenant1"))
	assert.Equal(t, "tenant_access_token:cli_123:", token.TenantAccessTokenKey("cli_123", ""))
}
