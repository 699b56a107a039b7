package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chinmina/tenant-token-bridge/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWarmupFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warmup.yaml")
	content := `
tokens:
  - key: app_access_token:cli_a1
    access_token: a-pinned
    token_type: app_access_token
    owner_app_id: cli_a1
    ttl: 2h
  - key: tenant_access_token:cli_a1:t1
    access_token: t-pinned
    token_type: tenant_access_token
    owner_app_id: cli_a1
    tenant_key: t1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	tokens, err := LoadWarmupFile(path)

	require.NoError(t, err)
	assert.Equal(t, map[string]token.TokenInfo{
		"app_access_token:cli_a1": {
			AccessToken: "a-pinned",
			TokenType:   token.AppAccessToken,
			OwnerAppID:  "cli_a1",
			TTL:         2 * time.Hour,
		},
		"tenant_access_token:cli_a1:t1": {
			AccessToken: "t-pinned",
			TokenType:   token.TenantAccessToken,
			OwnerAppID:  "cli_a1",
			TenantKey:   "t1",
		},
	}, tokens)
}

func TestLoadWarmupFile_MissingFile(t *testing.T) {
	_, err := LoadWarmupFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "reading warmup file")
}

func TestParseWarmup_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
		err     string
	}{
		{
			name:    "not yaml",
			content: "tokens: [",
			err:     "parsing warmup file",
		},
		{
			name:    "missing key",
			content: "tokens:\n  - access_token: x\n",
			err:     "key is required",
		},
		{
			name:    "missing token",
			content: "tokens:\n  - key: k\n",
			err:     "access_token is required",
		},
		{
			name:    "duplicate",
			content: "tokens:\n  - key: k\n    access_token: x\n  - key: k\n    access_token: y\n",
			err:     "duplicate key",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseWarmup([]byte(tc.content))
			require.ErrorContains(t, err, tc.err)
		})
	}
}
