package auth

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sha1n/mcp-fileindex-server/internal/config"
)

// Rejections counts unauthenticated requests by auth type.
var Rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fileindex",
	Subsystem: "auth",
	Name:      "rejected_requests_total",
}, []string{"type"})

// DefaultExcludedPaths bypass authentication unless overridden with WithExcludedPaths.
var DefaultExcludedPaths = []string{"/health"}

type options struct {
	excluded map[string]bool
}

// Option customizes the middleware.
type Option func(*options)

// WithExcludedPaths replaces the set of paths that bypass authentication.
func WithExcludedPaths(paths ...string) Option {
	return func(o *options) {
		o.excluded = make(map[string]bool, len(paths))
		for _, p := range paths {
			o.excluded[p] = true
		}
	}
}

// NewMiddleware creates a new authentication middleware based on settings
func NewMiddleware(settings config.AuthSettings, opts ...Option) (func(http.Handler) http.Handler, error) {
	o := &options{}
	WithExcludedPaths(DefaultExcludedPaths...)(o)
	for _, opt := range opts {
		opt(o)
	}

	switch settings.Type {
	case config.AuthTypeNone, "":
		return func(next http.Handler) http.Handler {
			return next
		}, nil
	case config.AuthTypeBasic:
		if settings.Basic.Username == "" || settings.Basic.Password == "" {
			return nil, fmt.Errorf("basic auth requires non-empty username and password")
		}
		return withExclusions(o.excluded, basicAuthMiddleware(settings.Basic)), nil
	case config.AuthTypeAPIKey:
		if len(settings.APIKeys) == 0 {
			return nil, fmt.Errorf("apikey auth requires at least one API key")
		}
		return withExclusions(o.excluded, apiKeyMiddleware(settings.APIKeys)), nil
	default:
		return nil, fmt.Errorf("unknown auth type: %s", settings.Type)
	}
}

// withExclusions wraps an auth middleware to skip auth for excluded paths
func withExclusions(excluded map[string]bool, authMiddleware func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		authedHandler := authMiddleware(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excluded[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			authedHandler.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, authType string) {
	Rejections.WithLabelValues(authType).Inc()
	slog.Debug("Rejected unauthenticated request", "auth_type", authType, "path", r.URL.Path, "remote", r.RemoteAddr)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

func basicAuthMiddleware(settings config.BasicAuthSettings) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(settings.Username)) == 1
			passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(settings.Password)) == 1
			if !ok || !userMatch || !passMatch {
				w.Header().Set("WWW-Authenticate", `Basic realm="fileindex"`)
				reject(w, r, config.AuthTypeBasic)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func apiKeyMiddleware(apiKeys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				reject(w, r, config.AuthTypeAPIKey)
				return
			}

			// Compare against every key so timing doesn't reveal which one matched
			valid := 0
			for _, validKey := range apiKeys {
				valid |= subtle.ConstantTimeCompare([]byte(key), []byte(validKey))
			}

			if valid != 1 {
				reject(w, r, config.AuthTypeAPIKey)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
