package tokenmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	appAccessTokenInternalPath    = "/open-apis/auth/v3/app_access_token/internal"
	appAccessTokenPath            = "/open-apis/auth/v3/app_access_token"
	tenantAccessTokenInternalPath = "/open-apis/auth/v3/tenant_access_token/internal"
	tenantAccessTokenPath         = "/open-apis/auth/v3/tenant_access_token"
	appTicketResendPath           = "/open-apis/auth/v3/app_ticket/resend"

	// responses from the token endpoints are small: anything larger is
	// treated as a broken upstream.
	maxResponseBytes = 64 << 10
)

// HTTPFetcher calls the platform's token issuing endpoints.
type HTTPFetcher struct {
	client  *http.Client
	baseURL string
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher for the platform at baseURL. A nil client
// uses http.DefaultClient, which is instrumented at startup.
func NewHTTPFetcher(baseURL string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

type credentialsBody struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
	AppTicket string `json:"app_ticket,omitempty"`
}

type marketplaceTenantBody struct {
	AppAccessToken string `json:"app_access_token"`
	TenantKey      string `json:"tenant_key"`
}

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	AppAccessToken    string `json:"app_access_token"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

func (f *HTTPFetcher) FetchAppAccessToken(ctx context.Context, req AppTokenRequest) (Issued, error) {
	path := appAccessTokenInternalPath
	body := credentialsBody{AppID: req.AppID, AppSecret: req.AppSecret}

	if req.marketplace() {
		path = appAccessTokenPath
		body.AppTicket = req.AppTicket
	}

	var resp tokenResponse
	if err := f.post(ctx, path, body, &resp); err != nil {
		return Issued{}, fmt.Errorf("app access token request failed: %w", err)
	}

	return issued(resp.AppAccessToken, resp.Expire)
}

func (f *HTTPFetcher) FetchTenantAccessToken(ctx context.Context, req TenantTokenRequest) (Issued, error) {
	var resp tokenResponse
	var err error

	if req.marketplace() {
		err = f.post(ctx, tenantAccessTokenPath, marketplaceTenantBody{
			AppAccessToken: req.AppAccessToken,
			TenantKey:      req.TenantKey,
		}, &resp)
	} else {
		err = f.post(ctx, tenantAccessTokenInternalPath, credentialsBody{
			AppID:     req.AppID,
			AppSecret: req.AppSecret,
		}, &resp)
	}
	if err != nil {
		return Issued{}, fmt.Errorf("tenant access token request failed: %w", err)
	}

	return issued(resp.TenantAccessToken, resp.Expire)
}

func (f *HTTPFetcher) ResendAppTicket(ctx context.Context, creds Credentials) error {
	var resp tokenResponse
	err := f.post(ctx, appTicketResendPath, credentialsBody{
		AppID:     creds.AppID,
		AppSecret: creds.AppSecret,
	}, &resp)
	if err != nil {
		return fmt.Errorf("app ticket resend request failed: %w", err)
	}
	return nil
}

func issued(accessToken string, expireSeconds int) (Issued, error) {
	if accessToken == "" {
		return Issued{}, fmt.Errorf("token endpoint response contained no token")
	}
	return Issued{
		AccessToken: accessToken,
		Expire:      time.Duration(expireSeconds) * time.Second,
	}, nil
}

func (f *HTTPFetcher) post(ctx context.Context, path string, body any, out *tokenResponse) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	res, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		apiErr := &APIError{HTTPStatus: res.StatusCode, Msg: http.StatusText(res.StatusCode)}
		// error bodies usually carry the platform code and message
		if json.Unmarshal(data, out) == nil && out.Code != 0 {
			apiErr.Code = out.Code
			apiErr.Msg = out.Msg
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if out.Code != 0 {
		return &APIError{HTTPStatus: res.StatusCode, Code: out.Code, Msg: out.Msg}
	}

	return nil
}
