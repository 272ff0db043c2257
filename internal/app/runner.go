package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/sha1n/mcp-fileindex-server/internal/auth"
	"github.com/sha1n/mcp-fileindex-server/internal/changelog"
	"github.com/sha1n/mcp-fileindex-server/internal/config"
	"github.com/sha1n/mcp-fileindex-server/internal/fileindex"
	mcputil "github.com/sha1n/mcp-fileindex-server/internal/mcp"
)

// Components are the long-lived parts of a running server
type Components struct {
	Server   *mcp.Server
	Gatherer prometheus.Gatherer // Optional: served on /metrics by the SSE server
	Cleanup  func()              // Optional: releases the index and change log
	Ready    func() bool         // Optional: reported by /health
}

// RunParams contains dependencies for the run function
type RunParams struct {
	LoadSettings      func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings     func(*config.Settings) error
	StartSSEServer    func(*Components, *config.Settings) error
	CreateServer      func(context.Context, *config.Settings) (*Components, error)
	CustomIOTransport mcp.Transport // Optional: for testing with custom IO
}

// DefaultRunParams returns production dependencies
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:   config.LoadSettingsWithFlags,
		ValidSettings:  config.ValidateSettings,
		StartSSEServer: StartSSEServer,
		CreateServer:   CreateMCPServer,
	}
}

// RunWithDeps executes the server with the provided dependencies
func RunWithDeps(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	// Load settings
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// Validate settings for conflicting configurations
	if err := params.ValidSettings(settings); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Configure logging - always use stderr to avoid buffering issues
	logger, err := config.NewLogger(settings.Log, os.Stderr)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	slog.SetDefault(logger)

	slog.Info("Starting MCP file index server", "version", version)
	config.Log(settings)

	components, err := params.CreateServer(ctx, settings)
	if err != nil {
		return err
	}
	if components.Cleanup != nil {
		defer components.Cleanup()
	}

	// Start server
	if settings.Transport == "stdio" {
		// Use custom transport if provided (for testing), otherwise use stdio
		transport := params.CustomIOTransport
		if transport == nil {
			transport = &mcp.StdioTransport{}
		}
		return components.Server.Run(ctx, transport)
	} else {
		slog.Info("Starting SSE server", "host", settings.Host, "port", settings.Port)
		return params.StartSSEServer(components, settings)
	}
}

// OpenIndex opens the change log and initializes the file index over it.
// The returned cleanup closes both; it is non-nil only on success.
func OpenIndex(ctx context.Context, settings config.IndexSettings) (*fileindex.Service, *changelog.SQLiteStore, func(), error) {
	store, err := changelog.OpenSQLite(settings.StorePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open change log: %w", err)
	}

	svc, err := fileindex.NewService(settings, store, fileindex.WithLogger(slog.Default()))
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, fmt.Errorf("failed to create file index service: %w", err)
	}

	if err := svc.Initialize(ctx); err != nil {
		_ = store.Close()
		return nil, nil, nil, fmt.Errorf("file index initialization failed: %w", err)
	}

	cleanup := func() {
		if err := svc.Close(); err != nil {
			slog.Error("Failed to close file index", "error", err)
		}
		if err := store.Close(); err != nil {
			slog.Error("Failed to close change log", "error", err)
		}
	}
	return svc, store, cleanup, nil
}

// CreateMCPServer opens the file index and creates the MCP server with its tools registered
func CreateMCPServer(ctx context.Context, settings *config.Settings) (*Components, error) {
	svc, _, cleanup, err := OpenIndex(ctx, settings.Index)
	if err != nil {
		return nil, err
	}

	registry := NewMetricsRegistry(svc)

	server := mcputil.CreateServer(mcputil.ServerConfig{
		Name:     "fileindex-mcp",
		Version:  "1.0.0",
		IndexSvc: svc,
	})

	return &Components{
		Server:   server,
		Gatherer: registry,
		Cleanup:  cleanup,
		Ready:    svc.IsReady,
	}, nil
}

// NewMetricsRegistry creates a registry with the process, index and live service metrics
func NewMetricsRegistry(svc *fileindex.Service) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	registry.MustRegister(fileindex.Collectors()...)
	registry.MustRegister(auth.Rejections)
	if svc != nil {
		registry.MustRegister(fileindex.NewServiceCollector(svc))
	}
	return registry
}
