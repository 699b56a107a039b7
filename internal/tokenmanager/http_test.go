package tokenmanager_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chinmina/tenant-token-bridge/internal/tokenmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Path        string
	ContentType string
	Body        map[string]string
}

// tokenServer responds to every request with status and body, recording
// what it received.
func tokenServer(t *testing.T, status int, body string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var received []recordedRequest

	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		var decoded map[string]string
		assert.NoError(t, json.Unmarshal(data, &decoded))

		received = append(received, recordedRequest{
			Path:        r.URL.Path,
			ContentType: r.Header.Get("Content-Type"),
			Body:        decoded,
		})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(svr.Close)

	return svr, &received
}

func TestHTTPFetcher_SelfBuiltAppToken(t *testing.T) {
	svr, received := tokenServer(t, http.StatusOK, `{"code":0,"msg":"ok","app_access_token":"a-token","expire":7200}`)
	f := tokenmanager.NewHTTPFetcher(svr.URL+"/", nil)

	issued, err := f.FetchAppAccessToken(context.Background(), tokenmanager.AppTokenRequest{Credentials: selfBuilt})
	require.NoError(t, err)

	assert.Equal(t, tokenmanager.Issued{AccessToken: "a-token", Expire: 2 * time.Hour}, issued)
	require.Len(t, *received, 1)
	assert.Equal(t, recordedRequest{
		Path:        "/open-apis/auth/v3/app_access_token/internal",
		ContentType: "application/json; charset=utf-8",
		Body:        map[string]string{"app_id": "cli_self", "app_secret": "secret"},
	}, (*received)[0])
}

func TestHTTPFetcher_MarketplaceAppTokenSendsTicket(t *testing.T) {
	svr, received := tokenServer(t, http.StatusOK, `{"code":0,"app_access_token":"a-token","expire":7200}`)
	f := tokenmanager.NewHTTPFetcher(svr.URL, svr.Client())

	_, err := f.FetchAppAccessToken(context.Background(), tokenmanager.AppTokenRequest{
		Credentials: marketplace,
		AppTicket:   "ticket",
	})
	require.NoError(t, err)

	require.Len(t, *received, 1)
	assert.Equal(t, "/open-apis/auth/v3/app_access_token", (*received)[0].Path)
	assert.Equal(t, map[string]string{"app_id": "cli_store", "app_secret": "secret", "app_ticket": "ticket"}, (*received)[0].Body)
}

func TestHTTPFetcher_SelfBuiltTenantToken(t *testing.T) {
	svr, received := tokenServer(t, http.StatusOK, `{"code":0,"tenant_access_token":"t-token","expire":1800}`)
	f := tokenmanager.NewHTTPFetcher(svr.URL, nil)

	issued, err := f.FetchTenantAccessToken(context.Background(), tokenmanager.TenantTokenRequest{Credentials: selfBuilt})
	require.NoError(t, err)

	assert.Equal(t, tokenmanager.Issued{AccessToken: "t-token", Expire: 30 * time.Minute}, issued)
	assert.Equal(t, "/open-apis/auth/v3/tenant_access_token/internal", (*received)[0].Path)
	assert.Equal(t, map[string]string{"app_id": "cli_self", "app_secret": "secret"}, (*received)[0].Body)
}

func TestHTTPFetcher_MarketplaceTenantToken(t *testing.T) {
	svr, received := tokenServer(t, http.StatusOK, `{"code":0,"tenant_access_token":"t-token","expire":1800}`)
	f := tokenmanager.NewHTTPFetcher(svr.URL, nil)

	_, err := f.FetchTenantAccessToken(context.Background(), tokenmanager.TenantTokenRequest{
		Credentials:    marketplace,
		AppAccessToken: "a-token",
		TenantKey:      "tenant-x",
	})
	require.NoError(t, err)

	assert.Equal(t, "/open-apis/auth/v3/tenant_access_token", (*received)[0].Path)
	assert.Equal(t, map[string]string{"app_access_token": "a-token", "tenant_key": "tenant-x"}, (*received)[0].Body)
}

func TestHTTPFetcher_ResendAppTicket(t *testing.T) {
	svr, received := tokenServer(t, http.StatusOK, `{"code":0,"msg":"ok"}`)
	f := tokenmanager.NewHTTPFetcher(svr.URL, nil)

	err := f.ResendAppTicket(context.Background(), marketplace)
	require.NoError(t, err)

	assert.Equal(t, "/open-apis/auth/v3/app_ticket/resend", (*received)[0].Path)
	assert.Equal(t, map[string]string{"app_id": "cli_store", "app_secret": "secret"}, (*received)[0].Body)
}

func TestHTTPFetcher_Failures(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		apiError *tokenmanager.APIError
		message  string
	}{
		{
			name:     "non-zero code",
			status:   http.StatusOK,
			body:     `{"code":10014,"msg":"app secret invalid"}`,
			apiError: &tokenmanager.APIError{HTTPStatus: http.StatusOK, Code: 10014, Msg: "app secret invalid"},
		},
		{
			name:     "http error with platform body",
			status:   http.StatusBadRequest,
			body:     `{"code":10003,"msg":"invalid param"}`,
			apiError: &tokenmanager.APIError{HTTPStatus: http.StatusBadRequest, Code: 10003, Msg: "invalid param"},
		},
		{
			name:     "http error without body",
			status:   http.StatusServiceUnavailable,
			body:     `{}`,
			apiError: &tokenmanager.APIError{HTTPStatus: http.StatusServiceUnavailable, Msg: "Service Unavailable"},
		},
		{
			name:    "malformed body",
			status:  http.StatusOK,
			body:    `{"code":`,
			message: "decoding response",
		},
		{
			name:    "missing token",
			status:  http.StatusOK,
			body:    `{"code":0,"expire":7200}`,
			message: "contained no token",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svr, _ := tokenServer(t, tc.status, tc.body)
			f := tokenmanager.NewHTTPFetcher(svr.URL, nil)

			_, err := f.FetchAppAccessToken(context.Background(), tokenmanager.AppTokenRequest{Credentials: selfBuilt})
			require.Error(t, err)

			if tc.apiError != nil {
				var apiErr *tokenmanager.APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, tc.apiError, apiErr)

				status, _ := apiErr.Status()
				assert.Equal(t, http.StatusBadGateway, status)
			} else {
				assert.ErrorContains(t, err, tc.message)
			}
		})
	}
}

func TestHTTPFetcher_HonoursContext(t *testing.T) {
	svr, _ := tokenServer(t, http.StatusOK, `{"code":0,"app_access_token":"a","expire":60}`)
	f := tokenmanager.NewHTTPFetcher(svr.URL, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.FetchAppAccessToken(ctx, tokenmanager.AppTokenRequest{Credentials: selfBuilt})
	require.ErrorIs(t, err, context.Canceled)
}
