package fileindex

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// BackupArgument defines backup parameters.
type BackupArgument struct {
	Directory string `json:"directory,omitempty" jsonschema_description:"Backup directory; defaults to the configured backup directory"`
}

// BackupHandler handles the backup MCP tool.
type BackupHandler struct {
	service *Service
}

// NewBackupHandler creates a new backup handler.
func NewBackupHandler(service *Service) *BackupHandler {
	return &BackupHandler{
		service: service,
	}
}

// Handle backs up the index and reports what was copied.
func (h *BackupHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args BackupArgument) (*mcp.CallToolResult, any, error) {
	if !h.service.IsReady() {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: "Backup is not available. The file index is not ready. Please try again later."},
			},
			IsError: true,
		}, nil, nil
	}

	dir := strings.TrimSpace(args.Directory)
	if dir == "" {
		dir = h.service.Settings().BackupDir
	}
	if !filepath.IsAbs(dir) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Backup directory must be an absolute path: %s", dir)},
			},
			IsError: true,
		}, nil, nil
	}

	report, err := h.service.Backup(ctx, dir)
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Backup failed: %s", err)},
			},
			IsError: true,
		}, nil, nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Backup %s complete\n\n", report.ID))
	sb.WriteString(fmt.Sprintf("**Directory**: `%s`\n", report.Dir))
	sb.WriteString(fmt.Sprintf("**Files copied**: %d\n", len(report.Copied)))
	sb.WriteString(fmt.Sprintf("**Files already present**: %d\n", len(report.Skipped)))
	sb.WriteString(fmt.Sprintf("**Files required for restore**: %d\n", len(report.Required)))
	sb.WriteString(fmt.Sprintf("**Duration**: %s\n", report.Duration.Round(time.Millisecond)))

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: sb.String()},
		},
	}, nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *BackupHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "backup_index",
		Description: "Copy a consistent point-in-time backup of the file index to a directory. Only files not already backed up are copied",
	}
}

// RegisterBackupTool registers the backup tool with an MCP server.
func RegisterBackupTool(server *mcp.Server, service *Service) {
	handler := NewBackupHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
