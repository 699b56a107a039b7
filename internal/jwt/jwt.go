package jwt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/chinmina/tenant-token-bridge/internal/config"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	jose "gopkg.in/go-jose/go-jose.v2"
)

// Middleware returns HTTP middleware that verifies the bearer JWT against
// the configured issuer and audience. The validated claims are set on the
// request context and can be retrieved with ClaimsFromContext.
func Middleware(cfg config.AuthorizationConfig, options ...jwtmiddleware.Option) (func(http.Handler) http.Handler, error) {
	// allow for static configuration when testing
	jwksConfig := remoteJWKS
	if cfg.ConfigurationStatic != "" {
		jwksConfig = staticJWKS
	}

	issuerURL, keyFunc, err := jwksConfig(cfg)
	if err != nil {
		return nil, err
	}

	jwtValidator, err := validator.New(
		keyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{cfg.Audience},
		validator.WithAllowedClockSkew(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set up the validator: %w", err)
	}

	options = append([]jwtmiddleware.Option{
		jwtmiddleware.WithErrorHandler(logErrorHandler),
	}, options...)

	middleware := jwtmiddleware.New(registeredClaimsValidator(jwtValidator.ValidateToken), options...)

	return alice.New(middleware.CheckJWT, claimsMiddleware).Then, nil
}

type claimsContextKey struct{}

// ContextWithClaims returns a new context.Context with the provided validated
// claims added to it. This is primarily for test usage.
func ContextWithClaims(ctx context.Context, claims *validator.ValidatedClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext returns the validated claims set by the JWT middleware, or
// nil when the request was not authorized by it.
func ClaimsFromContext(ctx context.Context) *validator.ValidatedClaims {
	if claims, ok := ctx.Value(jwtmiddleware.ContextKey{}).(*validator.ValidatedClaims); ok {
		return claims
	}

	claims, _ := ctx.Value(claimsContextKey{}).(*validator.ValidatedClaims)
	return claims
}

// registeredClaimsValidator ensures the claims we log and trace are present,
// along with a validity period. The core validation enforces the period
// itself.
func registeredClaimsValidator(next jwtmiddleware.ValidateToken) jwtmiddleware.ValidateToken {
	return func(ctx context.Context, token string) (interface{}, error) {
		claims, err := next(ctx, token)
		if err != nil {
			return nil, err
		}

		validatedClaims, ok := claims.(*validator.ValidatedClaims)
		if !ok {
			return nil, errors.New("could not cast claims to validator.ValidatedClaims")
		}

		reg := validatedClaims.RegisteredClaims

		if reg.Subject == "" {
			return nil, errors.New("subject claim not present")
		}

		if reg.Expiry == 0 {
			return nil, errors.New("token has no expiry")
		}

		return claims, nil
	}
}

// claimsMiddleware records the authorized subject on the request span and
// the request logger.
func claimsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			next.ServeHTTP(w, r)
			return
		}

		reg := claims.RegisteredClaims

		trace.SpanFromContext(r.Context()).SetAttributes(
			attribute.String("auth.subject", reg.Subject),
			attribute.String("auth.issuer", reg.Issuer),
		)

		logger := log.Ctx(r.Context()).With().Str("auth_subject", reg.Subject).Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}

func logErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	log.Ctx(r.Context()).Info().
		Err(err).
		Str("path", r.URL.Path).
		Msg("JWT authorization failure")

	jwtmiddleware.DefaultErrorHandler(w, r, err)
}

type KeyFunc = func(ctx context.Context) (any, error)

func remoteJWKS(cfg config.AuthorizationConfig) (url.URL, KeyFunc, error) {
	issuerURL, err := url.Parse(cfg.IssuerURL)
	if err != nil {
		return url.URL{}, nil, fmt.Errorf("failed to parse the issuer URL: %w", err)
	}

	var opts []jwks.ProviderOption
	if cfg.JWKSURL != "" {
		jwksURL, err := url.Parse(cfg.JWKSURL)
		if err != nil {
			return url.URL{}, nil, fmt.Errorf("failed to parse the JWKS URL: %w", err)
		}
		opts = append(opts, jwks.WithCustomJWKSURI(jwksURL))
	}

	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute, opts...)

	return *issuerURL, provider.KeyFunc, nil
}

func staticJWKS(cfg config.AuthorizationConfig) (url.URL, KeyFunc, error) {
	issuerURL, err := url.Parse(cfg.IssuerURL)
	if err != nil {
		return url.URL{}, nil, fmt.Errorf("failed to parse the issuer URL: %w", err)
	}

	var keys jose.JSONWebKeySet
	if err := json.Unmarshal([]byte(cfg.ConfigurationStatic), &keys); err != nil {
		return url.URL{}, nil, fmt.Errorf("could not decode jwks: %w", err)
	}

	keyFunc := func(_ context.Context) (any, error) { return &keys, nil }

	return *issuerURL, keyFunc, nil
}
