package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockPlatformServer is a configurable stand-in for the platform's token
// endpoints and one business endpoint that echoes the caller's credentials.
type MockPlatformServer struct {
	Server *httptest.Server

	mu             sync.Mutex
	appToken       string
	tenantToken    string
	expireSeconds  int
	code           int
	requestCounts  map[string]int
	lastAuthHeader string
	lastBodies     map[string]map[string]string
}

const EchoPath = "/open-apis/test/v1/echo"

// SetupMockPlatformServer starts a mock platform server that issues
// "app-token-N" and "tenant-token-N" tokens valid for two hours.
func SetupMockPlatformServer(t *testing.T) *MockPlatformServer {
	t.Helper()

	mock := &MockPlatformServer{
		appToken:      "app-token",
		tenantToken:   "tenant-token",
		expireSeconds: 7200,
		requestCounts: map[string]int{},
		lastBodies:    map[string]map[string]string{},
	}

	router := http.NewServeMux()

	tokenRoute := func(field string, value func() string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			n := mock.record(r)

			mock.mu.Lock()
			code := mock.code
			expire := mock.expireSeconds
			mock.mu.Unlock()

			if code != 0 {
				WriteJSON(w, map[string]any{"code": code, "msg": "mock failure"})
				return
			}

			WriteJSON(w, map[string]any{
				"code":   0,
				"msg":    "ok",
				field:    fmt.Sprintf("%s-%d", value(), n),
				"expire": expire,
			})
		}
	}

	appToken := func() string {
		mock.mu.Lock()
		defer mock.mu.Unlock()
		return mock.appToken
	}
	tenantToken := func() string {
		mock.mu.Lock()
		defer mock.mu.Unlock()
		return mock.tenantToken
	}

	router.HandleFunc("POST /open-apis/auth/v3/app_access_token/internal", tokenRoute("app_access_token", appToken))
	router.HandleFunc("POST /open-apis/auth/v3/app_access_token", tokenRoute("app_access_token", appToken))
	router.HandleFunc("POST /open-apis/auth/v3/tenant_access_token/internal", tokenRoute("tenant_access_token", tenantToken))
	router.HandleFunc("POST /open-apis/auth/v3/tenant_access_token", tokenRoute("tenant_access_token", tenantToken))

	router.HandleFunc("POST /open-apis/auth/v3/app_ticket/resend", func(w http.ResponseWriter, r *http.Request) {
		mock.record(r)
		WriteJSON(w, map[string]any{"code": 0, "msg": "ok"})
	})

	router.HandleFunc(EchoPath, func(w http.ResponseWriter, r *http.Request) {
		mock.record(r)
		WriteJSON(w, map[string]any{
			"code": 0,
			"data": map[string]string{"authorization": r.Header.Get("Authorization")},
		})
	})

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Server.Close)

	return mock
}

// record counts the request by path and returns the new count.
func (m *MockPlatformServer) record(r *http.Request) int {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requestCounts[r.URL.Path]++
	m.lastAuthHeader = r.Header.Get("Authorization")
	m.lastBodies[r.URL.Path] = body

	return m.requestCounts[r.URL.Path]
}

// FailWith makes every token endpoint respond with the given platform error
// code. Zero restores success.
func (m *MockPlatformServer) FailWith(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.code = code
}

func (m *MockPlatformServer) SetExpire(seconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireSeconds = seconds
}

func (m *MockPlatformServer) RequestCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCounts[path]
}

func (m *MockPlatformServer) LastBody(path string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastBodies[path]
}

func (m *MockPlatformServer) LastAuthHeader() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAuthHeader
}

// URL is the base URL to configure clients with.
func (m *MockPlatformServer) URL() string {
	return m.Server.URL
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
