package testhelpers

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

// GenerateJWK generates an RSA 2048-bit signing key with a key ID.
func GenerateJWK(t *testing.T) *jose.JSONWebKey {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate private key")

	return &jose.JSONWebKey{
		Key:       privateKey,
		KeyID:     "test-kid",
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}
}

// JWKSJSON renders the public half of key as a JSON key set.
func JWKSJSON(t *testing.T, key *jose.JSONWebKey) string {
	t.Helper()

	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{key.Public()}}

	data, err := json.Marshal(set)
	require.NoError(t, err, "failed to marshal JWKS")

	return string(data)
}

// CreateJWT signs claims with key after setting the issuer.
func CreateJWT(t *testing.T, key *jose.JSONWebKey, issuer string, claims josejwt.Claims) string {
	t.Helper()

	claims.Issuer = issuer

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: *key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err, "failed to create signer")

	token, err := josejwt.Signed(signer).Claims(claims).Serialize()
	require.NoError(t, err, "failed to sign JWT")

	return token
}

// ValidClaims sets timing fields so the token is valid from one minute ago
// until one minute from now.
func ValidClaims(claims josejwt.Claims) josejwt.Claims {
	now := time.Now().UTC()

	claims.IssuedAt = josejwt.NewNumericDate(now)
	claims.NotBefore = josejwt.NewNumericDate(now.Add(-1 * time.Minute))
	claims.Expiry = josejwt.NewNumericDate(now.Add(1 * time.Minute))

	return claims
}

// SetupJWKSServer creates a mock OIDC provider that serves discovery and the
// public key set for key. It is closed when the test ends.
func SetupJWKSServer(t *testing.T, key *jose.JSONWebKey) *httptest.Server {
	t.Helper()

	var server *httptest.Server

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			WriteJSON(w, map[string]string{
				"jwks_uri": server.URL + "/.well-known/jwks.json",
			})
		case "/.well-known/jwks.json", "/keys":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(JWKSJSON(t, key)))
		default:
			http.Error(w, "unexpected JWKS server request: "+r.URL.String(), http.StatusInternalServerError)
		}
	})

	server = httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return server
}
