package auth

import (
	"context"
	"net/http"
)

type contextKey int

const (
	tokenTypeKey contextKey = iota
	requestOptionKey
)

// WithAccessTokenType records the token type that Transport applies to
// requests made with ctx.
func WithAccessTokenType(ctx context.Context, typ AccessTokenType) context.Context {
	return context.WithValue(ctx, tokenTypeKey, typ)
}

// WithRequestOption records the overrides that Transport passes to
// ApplyAuth for requests made with ctx.
func WithRequestOption(ctx context.Context, opt RequestOption) context.Context {
	return context.WithValue(ctx, requestOptionKey, opt)
}

// AccessTokenTypeFromContext returns the recorded token type, or None.
func AccessTokenTypeFromContext(ctx context.Context) AccessTokenType {
	typ, ok := ctx.Value(tokenTypeKey).(AccessTokenType)
	if !ok {
		return None
	}
	return typ
}

func RequestOptionFromContext(ctx context.Context) RequestOption {
	opt, _ := ctx.Value(requestOptionKey).(RequestOption)
	return opt
}

// Transport authenticates each request using the token type and options
// stored on its context, then sends it with Base.
type Transport struct {
	Base    http.RoundTripper
	Config  Config
	Handler Handler
}

var _ http.RoundTripper = (*Transport)(nil)

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	authed, err := t.Handler.ApplyAuth(ctx, req, AccessTokenTypeFromContext(ctx), t.Config, RequestOptionFromContext(ctx))
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}

	return t.base().RoundTrip(authed)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
