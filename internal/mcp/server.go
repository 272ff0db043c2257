package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/mcp-fileindex-server/internal/fileindex"
)

// ServerConfig contains configuration for creating an MCP server
type ServerConfig struct {
	Name     string
	Version  string
	IndexSvc *fileindex.Service // Optional: registers the file index tools when set
}

// CreateServer creates and configures the MCP server
func CreateServer(cfg ServerConfig) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	if cfg.IndexSvc != nil {
		fileindex.RegisterSearchTool(s, cfg.IndexSvc)
		fileindex.RegisterTermsTool(s, cfg.IndexSvc)
		fileindex.RegisterBackupTool(s, cfg.IndexSvc)
	}

	return s
}
