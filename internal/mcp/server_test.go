package mcp

import (
	"testing"

	"github.com/sha1n/mcp-fileindex-server/internal/changelog"
	"github.com/sha1n/mcp-fileindex-server/internal/fileindex"
)

func TestCreateServer(t *testing.T) {
	cfg := ServerConfig{
		Name:    "test-server",
		Version: "1.0.0",
	}

	server := CreateServer(cfg)
	if server == nil {
		t.Fatal("Expected server to be created")
	}
}

func TestCreateServer_EmptyConfig(t *testing.T) {
	server := CreateServer(ServerConfig{})
	if server == nil {
		t.Fatal("Expected server to be created even with empty config")
	}
}

func TestCreateServer_WithIndexService(t *testing.T) {
	svc := fileindex.NewTestService(t, t.TempDir(), changelog.NewMemory())

	cfg := ServerConfig{
		Name:     "test-server",
		Version:  "1.0.0",
		IndexSvc: svc,
	}

	server := CreateServer(cfg)
	if server == nil {
		t.Fatal("Expected server to be created with the file index service")
	}

	// The SDK does not list registered tools; the integration tests call them over MCP.
}
