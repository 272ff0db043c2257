package testkit

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/spf13/pflag"

	"github.com/sha1n/mcp-fileindex-server/internal/app"
	"github.com/sha1n/mcp-fileindex-server/internal/config"
)

// Property names published by IndexService.Start
const (
	PropIndex   = "index"
	PropStore   = "store"
	PropDataDir = "dataDir"
)

// Service represents a test service that can be started and stopped
type Service interface {
	Start() (map[string]any, error)
	Stop() error
	GetName() string
}

// TestEnvContext provides access to properties collected during environment startup
type TestEnvContext interface {
	GetProperties() map[string]any
	GetProperty(name string) (any, bool)
}

// TestEnv manages the lifecycle of test services
type TestEnv interface {
	Start() (map[string]any, error)
	Stop() error
	GetContext() TestEnvContext
}

type testEnvContextImpl struct {
	properties map[string]any
}

func (c *testEnvContextImpl) GetProperties() map[string]any {
	return c.properties
}

func (c *testEnvContextImpl) GetProperty(name string) (any, bool) {
	val, ok := c.properties[name]
	return val, ok
}

type testEnvImpl struct {
	services []Service
	context  *testEnvContextImpl
}

// NewTestEnv creates a new test environment with the given services
func NewTestEnv(services ...Service) TestEnv {
	return &testEnvImpl{
		services: services,
		context:  &testEnvContextImpl{properties: make(map[string]any)},
	}
}

func (e *testEnvImpl) Start() (map[string]any, error) {
	for _, s := range e.services {
		props, err := s.Start()
		if err != nil {
			return nil, err
		}
		for k, v := range props {
			e.context.properties[k] = v
		}
	}
	return e.context.properties, nil
}

func (e *testEnvImpl) Stop() error {
	var lastErr error
	// Stop in reverse order
	for i := len(e.services) - 1; i >= 0; i-- {
		if err := e.services[i].Stop(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (e *testEnvImpl) GetContext() TestEnvContext {
	return e.context
}

// IndexService opens a file index and its SQLite change log for the duration of a test environment
type IndexService struct {
	settings config.IndexSettings
	cleanup  func()
}

// NewIndexService creates an index service rooted at dataDir with default tuning
func NewIndexService(dataDir string) *IndexService {
	return &IndexService{settings: config.DefaultIndexSettings(dataDir)}
}

// Start opens the change log and initializes the index over it.
// The index is published under PropIndex, the change log under PropStore.
func (s *IndexService) Start() (map[string]any, error) {
	svc, store, cleanup, err := app.OpenIndex(context.Background(), s.settings)
	if err != nil {
		return nil, err
	}
	s.cleanup = cleanup
	return map[string]any{
		PropIndex:   svc,
		PropStore:   store,
		PropDataDir: s.settings.DataDir,
	}, nil
}

// Stop closes the index and the change log. It is safe to call more than once.
func (s *IndexService) Stop() error {
	if s.cleanup != nil {
		s.cleanup()
		s.cleanup = nil
	}
	return nil
}

func (s *IndexService) GetName() string {
	return "fileindex"
}

// GetFreePort returns a free port from the kernel
func GetFreePort() (int, error) {
	return getFreePortWithAddr("localhost:0")
}

// MustGetFreePort returns a free port or fails the test
func MustGetFreePort(t testing.TB) int {
	t.Helper()
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}
	return port
}

func getFreePortWithAddr(addrStr string) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", addrStr)
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// FlagOptions configures NewTestFlags
type FlagOptions struct {
	Port      int    // Uses free port if 0
	Transport string // Defaults to "sse"
	AuthType  string // Defaults to "none"
	Host      string // Defaults to "localhost"
	DataDir   string // Uses a test temp dir if empty
}

// NewTestFlags creates a configured pflag.FlagSet for testing
func NewTestFlags(t testing.TB, opts *FlagOptions) *pflag.FlagSet {
	t.Helper()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	app.RegisterFlags(flags)

	port := 0
	transport := "sse"
	authType := "none"
	host := "localhost"
	dataDir := ""

	if opts != nil {
		if opts.Port != 0 {
			port = opts.Port
		}
		if opts.Transport != "" {
			transport = opts.Transport
		}
		if opts.AuthType != "" {
			authType = opts.AuthType
		}
		if opts.Host != "" {
			host = opts.Host
		}
		dataDir = opts.DataDir
	}

	if port == 0 {
		port = MustGetFreePort(t)
	}
	if dataDir == "" {
		dataDir = t.TempDir()
	}

	_ = flags.Set("port", fmt.Sprintf("%d", port))
	_ = flags.Set("transport", transport)
	_ = flags.Set("auth-type", authType)
	_ = flags.Set("host", host)
	_ = flags.Set("data-dir", dataDir)
	_ = flags.Set("log-level", "error")

	return flags
}
