package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/chinmina/tenant-token-bridge/internal/auth"
	"github.com/chinmina/tenant-token-bridge/internal/cache"
	"github.com/chinmina/tenant-token-bridge/internal/clock"
	"github.com/chinmina/tenant-token-bridge/internal/token"
	"github.com/chinmina/tenant-token-bridge/internal/tokenmanager"
	"github.com/rs/zerolog/log"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

// tokenSource acquires tokens through the cache.
type tokenSource interface {
	AppToken(ctx context.Context, creds tokenmanager.Credentials, appTicket string, tickets tokenmanager.AppTicketManager) (token.TokenInfo, error)
	TenantToken(ctx context.Context, creds tokenmanager.Credentials, tenantKey string, appTicket string, tickets tokenmanager.AppTicketManager) (token.TokenInfo, error)
}

// TokenResponse describes an acquired token. The token itself is never
// returned: the route exists to pre-fetch and check acquisition.
type TokenResponse struct {
	TokenType token.Type `json:"token_type"`
	TenantKey string     `json:"tenant_key,omitempty"`
	ExpiresIn int64      `json:"expires_in"`
}

type RemovedResponse struct {
	Removed int `json:"removed"`
}

type KeysResponse struct {
	Keys []string `json:"keys"`
}

// CacheConfigResponse is the cache engine configuration, used both to report
// it and to replace it.
type CacheConfigResponse struct {
	MaxSize           int   `json:"max_size"`
	DefaultTTLSeconds int64 `json:"default_ttl_seconds"`
}

type AppTicketRequest struct {
	AppTicket string `json:"app_ticket"`
}

func handlePostToken(tokens tokenSource, creds tokenmanager.Credentials, tickets tokenmanager.AppTicketManager, clk clock.Clock) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		typ, err := auth.ParseAccessTokenType(r.PathValue("type"))
		if err != nil || (typ != auth.App && typ != auth.Tenant) {
			log.Info().Str("type", r.PathValue("type")).Msg("unsupported token type requested")
			writeJSONError(w, http.StatusBadRequest, "token type must be app or tenant")
			return
		}

		var tok token.TokenInfo
		if typ == auth.App {
			tok, err = tokens.AppToken(r.Context(), creds, "", tickets)
		} else {
			tok, err = tokens.TenantToken(r.Context(), creds, r.URL.Query().Get("tenant_key"), "", tickets)
		}
		if err != nil {
			status, message := errorStatus(err)
			log.Info().Err(err).Stringer("type", typ).Msg("token acquisition failed")
			writeJSONError(w, status, message)
			return
		}

		writeJSON(w, http.StatusOK, TokenResponse{
			TokenType: tok.TokenType,
			TenantKey: tok.TenantKey,
			ExpiresIn: int64(tok.ExpiresAt().Sub(clk.Now()).Seconds()),
		})
	})
}

func handleCacheMetrics(cm *cache.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics, err := cm.GetPerformanceMetrics(r.Context())
		if err != nil {
			log.Info().Err(err).Msg("cache metrics failed")
			requestError(w, http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, metrics)
	})
}

func handleListCacheKeys(cm *cache.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys, err := cm.GetCacheKeysByPattern(r.Context(), r.URL.Query().Get("pattern"))
		if err != nil {
			log.Info().Err(err).Msg("cache key listing failed")
			requestError(w, http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, KeysResponse{Keys: keys})
	})
}

// handleRemoveCacheKeys removes the keys matching the pattern query
// parameter. An empty pattern matches every key.
func handleRemoveCacheKeys(cm *cache.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		removed, err := cm.RemoveCacheByPattern(r.Context(), r.URL.Query().Get("pattern"))
		if err != nil {
			log.Info().Err(err).Msg("cache key removal failed")
			requestError(w, http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, RemovedResponse{Removed: removed})
	})
}

func handleCacheCleanup(cm *cache.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		removed, err := cm.CleanupExpiredTokens(r.Context())
		if err != nil {
			log.Info().Err(err).Msg("cache cleanup failed")
			requestError(w, http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, RemovedResponse{Removed: removed})
	})
}

func handleGetCacheConfig(cm *cache.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cacheConfigResponse(cm.Config()))
	})
}

// handlePutCacheConfig rebuilds the cache engine with a new configuration.
// Live tokens are carried over.
func handlePutCacheConfig(cm *cache.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var body CacheConfigResponse
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			log.Info().Err(err).Msg("invalid cache configuration request")
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if body.MaxSize < 0 || body.DefaultTTLSeconds <= 0 {
			writeJSONError(w, http.StatusBadRequest, "max_size must not be negative and default_ttl_seconds must be positive")
			return
		}

		cfg := cache.Config{
			MaxSize:    body.MaxSize,
			DefaultTTL: time.Duration(body.DefaultTTLSeconds) * time.Second,
		}
		if err := cm.UpdateConfig(r.Context(), cfg); err != nil {
			log.Info().Err(err).Msg("cache configuration update failed")
			requestError(w, http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, cacheConfigResponse(cm.Config()))
	})
}

func cacheConfigResponse(cfg cache.Config) CacheConfigResponse {
	return CacheConfigResponse{
		MaxSize:           cfg.MaxSize,
		DefaultTTLSeconds: int64(cfg.DefaultTTL / time.Second),
	}
}

// handlePostAppTicket accepts app tickets pushed by the platform's event
// delivery, or relayed by whatever receives those events.
func handlePostAppTicket(tickets tokenmanager.AppTicketManager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var body AppTicketRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			log.Info().Err(err).Msg("invalid app ticket request")
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if body.AppTicket == "" {
			writeJSONError(w, http.StatusBadRequest, "app_ticket is required")
			return
		}

		if err := tickets.Set(r.Context(), body.AppTicket); err != nil {
			log.Info().Err(err).Msg("app ticket update failed")
			requestError(w, http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		requestError(w, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		// record failure to log: trying to respond to the client at this
		// point will likely fail
		log.Info().Err(err).Msg("failed to write response")
	}
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that don't implement HTTPStatuser.
func errorStatus(err error) (int, string) {
	if errors.Is(err, tokenmanager.ErrAppTicketMissing) {
		return http.StatusServiceUnavailable, "app ticket not yet received; resend requested"
	}

	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

func requestError(w http.ResponseWriter, statusCode int) {
	http.Error(w, http.StatusText(statusCode), statusCode)
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// after this we'll assume the client is broken or malicious and close
		// the connection
		_, _ = io.CopyN(io.Discard, r.Body, 5*1024)
	}
}
