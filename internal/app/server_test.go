package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/mcp-fileindex-server/internal/config"
)

func testComponents() *Components {
	impl := &mcp.Implementation{Name: "test", Version: "1.0"}
	return &Components{
		Server:   mcp.NewServer(impl, nil),
		Gatherer: NewMetricsRegistry(nil),
	}
}

func basicAuthSettings() config.AuthSettings {
	return config.AuthSettings{
		Type: config.AuthTypeBasic,
		Basic: config.BasicAuthSettings{
			Username: "admin",
			Password: "secret",
		},
	}
}

func TestNewSSEServer_Auth(t *testing.T) {
	tests := []struct {
		name    string
		auth    config.AuthSettings
		wantErr bool
	}{
		{name: "none", auth: config.AuthSettings{Type: config.AuthTypeNone}},
		{name: "basic", auth: basicAuthSettings()},
		{name: "api key", auth: config.AuthSettings{Type: config.AuthTypeAPIKey, APIKeys: []string{"key1", "key2"}}},
		{name: "basic without credentials", auth: config.AuthSettings{Type: config.AuthTypeBasic}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := &config.Settings{Host: "localhost", Port: 9090, Auth: tt.auth}

			srv, err := NewSSEServer(testComponents(), settings)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error for invalid auth settings")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if srv.Addr != "localhost:9090" {
				t.Errorf("Expected addr 'localhost:9090', got '%s'", srv.Addr)
			}
		})
	}
}

func TestNewSSEServer_NilServer(t *testing.T) {
	settings := &config.Settings{Host: "localhost", Port: 8080}
	if _, err := NewSSEServer(&Components{}, settings); err == nil {
		t.Error("Expected error for missing MCP server")
	}
}

func TestNewSSEServer_HealthEndpoint(t *testing.T) {
	settings := &config.Settings{
		Host: "localhost",
		Port: 8080,
		Auth: config.AuthSettings{Type: config.AuthTypeNone},
	}

	srv, err := NewSSEServer(testComponents(), settings)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("Expected body 'ok', got '%s'", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "text/plain; charset=utf-8" {
		t.Errorf("Expected Content-Type 'text/plain; charset=utf-8', got '%s'", rec.Header().Get("Content-Type"))
	}
}

func TestNewSSEServer_HealthReportsNotReady(t *testing.T) {
	c := testComponents()
	c.Ready = func() bool { return false }
	settings := &config.Settings{Host: "localhost", Port: 8080}

	srv, err := NewSSEServer(c, settings)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rec.Code)
	}
}

func TestNewSSEServer_PublicEndpointsBypassAuth(t *testing.T) {
	settings := &config.Settings{
		Host: "localhost",
		Port: 8080,
		Auth: basicAuthSettings(),
	}

	srv, err := NewSSEServer(testComponents(), settings)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for _, path := range []string{"/health", "/metrics"} {
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("Expected status 200 for %s without auth, got %d", path, rec.Code)
		}
	}
}

func TestNewSSEServer_MetricsEndpoint(t *testing.T) {
	settings := &config.Settings{Host: "localhost", Port: 8080}

	srv, err := NewSSEServer(testComponents(), settings)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("Expected metrics in body, got %q", rec.Body.String())
	}
}

func TestNewSSEServer_NoMetricsWithoutGatherer(t *testing.T) {
	c := testComponents()
	c.Gatherer = nil
	settings := &config.Settings{Host: "localhost", Port: 8080}

	srv, err := NewSSEServer(c, settings)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}

func TestNewSSEServer_SSEEndpointRequiresAuth(t *testing.T) {
	settings := &config.Settings{
		Host: "localhost",
		Port: 8080,
		Auth: basicAuthSettings(),
	}

	srv, err := NewSSEServer(testComponents(), settings)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	req := httptest.NewRequest("GET", "/sse", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for /sse without auth, got %d", rec.Code)
	}
}
