package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// AppType distinguishes apps built for a single tenant from apps published
// to the marketplace; the two acquire tokens through different flows.
type AppType string

const (
	AppTypeSelfBuilt   AppType = "self_built"
	AppTypeMarketplace AppType = "marketplace"
)

// Credentials identifies the app that tokens are acquired for.
type Credentials struct {
	AppID     string
	AppSecret string
	AppType   AppType
}

func (c Credentials) marketplace() bool {
	return c.AppType == AppTypeMarketplace
}

// Issued is a token as returned by the issuing endpoint.
type Issued struct {
	AccessToken string
	Expire      time.Duration
}

type AppTokenRequest struct {
	Credentials
	AppTicket string
}

type TenantTokenRequest struct {
	Credentials

	// AppAccessToken and TenantKey are only used by marketplace apps.
	AppAccessToken string
	TenantKey      string
}

// Fetcher performs the remote calls to the token issuing endpoints.
type Fetcher interface {
	FetchAppAccessToken(ctx context.Context, req AppTokenRequest) (Issued, error)
	FetchTenantAccessToken(ctx context.Context, req TenantTokenRequest) (Issued, error)

	// ResendAppTicket asks the platform to push a fresh app ticket to the
	// app's event callback.
	ResendAppTicket(ctx context.Context, creds Credentials) error
}

// ErrAppTicketMissing is returned when a marketplace app needs an app ticket
// and none has been received yet. A resend is requested before returning.
var ErrAppTicketMissing = errors.New("app ticket not available")

// APIError reports a rejection by the token issuing endpoint, either as a
// non-2xx HTTP status or a non-zero response code.
type APIError struct {
	HTTPStatus int
	Code       int
	Msg        string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("token endpoint returned code %d: %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("token endpoint returned HTTP %d: %s", e.HTTPStatus, e.Msg)
}

// Status reports the failure to HTTP clients as an upstream failure.
func (e *APIError) Status() (int, string) {
	return http.StatusBadGateway, http.StatusText(http.StatusBadGateway)
}
