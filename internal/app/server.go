package app

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sha1n/mcp-fileindex-server/internal/auth"
	"github.com/sha1n/mcp-fileindex-server/internal/config"
)

// StartSSEServer starts the SSE server with authentication
func StartSSEServer(c *Components, settings *config.Settings) error {
	srv, err := NewSSEServer(c, settings)
	if err != nil {
		return err
	}

	slog.Info("Server listening (HTTP)", "addr", srv.Addr, "auth_type", settings.Auth.Type)
	return srv.ListenAndServe()
}

// NewSSEServer creates a new SSE server with authentication middleware.
// Health and metrics endpoints are served without authentication.
func NewSSEServer(c *Components, settings *config.Settings) (*http.Server, error) {
	if c == nil || c.Server == nil {
		return nil, fmt.Errorf("mcp server cannot be nil")
	}
	s := c.Server

	// Factory function returns the server instance for each request
	sseHandler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server {
		return s
	}, nil)

	authMiddleware, err := auth.NewMiddleware(settings.Auth, auth.WithExcludedPaths("/health", "/metrics"))
	if err != nil {
		return nil, fmt.Errorf("failed to create auth middleware: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if c.Ready != nil && !c.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if c.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(c.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/sse", sseHandler)

	handler := authMiddleware(mux)
	addr := fmt.Sprintf("%s:%d", settings.Host, settings.Port)

	return &http.Server{
		Addr:    addr,
		Handler: handler,
	}, nil
}
