package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sha1n/mcp-fileindex-server/internal/config"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func basicSettings() config.AuthSettings {
	return config.AuthSettings{
		Type:  config.AuthTypeBasic,
		Basic: config.BasicAuthSettings{Username: "admin", Password: "secret"},
	}
}

func apiKeySettings() config.AuthSettings {
	return config.AuthSettings{
		Type:    config.AuthTypeAPIKey,
		APIKeys: []string{"key1", "key2"},
	}
}

func serve(t *testing.T, settings config.AuthSettings, req *http.Request, opts ...Option) *httptest.ResponseRecorder {
	t.Helper()
	middleware, err := NewMiddleware(settings, opts...)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	rec := httptest.NewRecorder()
	middleware(okHandler).ServeHTTP(rec, req)
	return rec
}

func TestNewMiddleware_Requests(t *testing.T) {
	tests := []struct {
		name     string
		settings config.AuthSettings
		prepare  func(r *http.Request)
		want     int
	}{
		{
			name:     "none",
			settings: config.AuthSettings{Type: config.AuthTypeNone},
			want:     http.StatusOK,
		},
		{
			name:     "empty type",
			settings: config.AuthSettings{},
			want:     http.StatusOK,
		},
		{
			name:     "basic valid",
			settings: basicSettings(),
			prepare:  func(r *http.Request) { r.SetBasicAuth("admin", "secret") },
			want:     http.StatusOK,
		},
		{
			name:     "basic wrong password",
			settings: basicSettings(),
			prepare:  func(r *http.Request) { r.SetBasicAuth("admin", "wrongpassword") },
			want:     http.StatusUnauthorized,
		},
		{
			name:     "basic wrong user",
			settings: basicSettings(),
			prepare:  func(r *http.Request) { r.SetBasicAuth("root", "secret") },
			want:     http.StatusUnauthorized,
		},
		{
			name:     "basic no credentials",
			settings: basicSettings(),
			want:     http.StatusUnauthorized,
		},
		{
			name:     "api key first",
			settings: apiKeySettings(),
			prepare:  func(r *http.Request) { r.Header.Set("X-API-Key", "key1") },
			want:     http.StatusOK,
		},
		{
			name:     "api key second",
			settings: apiKeySettings(),
			prepare:  func(r *http.Request) { r.Header.Set("X-API-Key", "key2") },
			want:     http.StatusOK,
		},
		{
			name:     "api key wrong",
			settings: apiKeySettings(),
			prepare:  func(r *http.Request) { r.Header.Set("X-API-Key", "wrongkey") },
			want:     http.StatusUnauthorized,
		},
		{
			name:     "api key missing",
			settings: apiKeySettings(),
			want:     http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/sse", nil)
			if tt.prepare != nil {
				tt.prepare(req)
			}
			rec := serve(t, tt.settings, req)
			if rec.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestNewMiddleware_BasicAuthChallenge(t *testing.T) {
	rec := serve(t, basicSettings(), httptest.NewRequest("GET", "/sse", nil))
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("Expected WWW-Authenticate header")
	}
}

func TestNewMiddleware_InvalidSettings(t *testing.T) {
	tests := []struct {
		name     string
		settings config.AuthSettings
	}{
		{"basic missing username", config.AuthSettings{Type: config.AuthTypeBasic, Basic: config.BasicAuthSettings{Password: "secret"}}},
		{"basic missing password", config.AuthSettings{Type: config.AuthTypeBasic, Basic: config.BasicAuthSettings{Username: "admin"}}},
		{"api key without keys", config.AuthSettings{Type: config.AuthTypeAPIKey, APIKeys: []string{}}},
		{"unknown type", config.AuthSettings{Type: "oauth"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewMiddleware(tt.settings); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestNewMiddleware_DefaultExclusions(t *testing.T) {
	rec := serve(t, basicSettings(), httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected /health to bypass auth, got %d", rec.Code)
	}

	rec = serve(t, basicSettings(), httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected /metrics to require auth by default, got %d", rec.Code)
	}
}

func TestNewMiddleware_WithExcludedPaths(t *testing.T) {
	opt := WithExcludedPaths("/health", "/metrics")

	for _, path := range []string{"/health", "/metrics"} {
		rec := serve(t, apiKeySettings(), httptest.NewRequest("GET", path, nil), opt)
		if rec.Code != http.StatusOK {
			t.Errorf("Expected %s to bypass auth, got %d", path, rec.Code)
		}
	}

	// Exclusion is by exact path
	rec := serve(t, apiKeySettings(), httptest.NewRequest("GET", "/metrics/extra", nil), opt)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected /metrics/extra to require auth, got %d", rec.Code)
	}
}

func TestNewMiddleware_CountsRejections(t *testing.T) {
	before := testutil.ToFloat64(Rejections.WithLabelValues(config.AuthTypeAPIKey))

	serve(t, apiKeySettings(), httptest.NewRequest("GET", "/sse", nil))
	req := httptest.NewRequest("GET", "/sse", nil)
	req.Header.Set("X-API-Key", "key1")
	serve(t, apiKeySettings(), req)

	after := testutil.ToFloat64(Rejections.WithLabelValues(config.AuthTypeAPIKey))
	if after-before != 1 {
		t.Errorf("Expected exactly one rejection to be counted, got %v", after-before)
	}
}
