package fileindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SearchArgument defines search parameters.
type SearchArgument struct {
	Query    string   `json:"query,omitempty" jsonschema_description:"Query text; empty matches all files. Supports field:value terms, wildcards and ranges like size_numeric:[1000 TO 2000]"`
	Sort     []string `json:"sort,omitempty" jsonschema_description:"Sort fields in priority order; prefix with - for descending (e.g., -size_numeric, fileName)"`
	Start    int      `json:"start,omitempty" jsonschema_description:"Offset of the first result to return"`
	PageSize int      `json:"page_size,omitempty" jsonschema_description:"Maximum number of results to return"`
}

// SearchHandler handles the search MCP tool.
type SearchHandler struct {
	service *Service
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(service *Service) *SearchHandler {
	return &SearchHandler{
		service: service,
	}
}

// Handle executes the query and returns the matching keys.
func (h *SearchHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args SearchArgument) (*mcp.CallToolResult, any, error) {
	// Check if service is ready
	if !h.service.IsReady() {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: "Search is not available. The file index is not ready. Please try again later."},
			},
			IsError: true,
		}, nil, nil
	}

	if args.Start < 0 || args.PageSize < 0 {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: "start and page_size must be non-negative"},
			},
			IsError: true,
		}, nil, nil
	}

	// Default and cap page size
	maxPageSize := h.service.Settings().MaxPageSize
	pageSize := args.PageSize
	if pageSize == 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	result, err := h.service.Query(ctx, args.Query, args.Sort, args.Start, pageSize)
	if err != nil {
		if IsQueryError(err) {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					&mcp.TextContent{Text: fmt.Sprintf("Invalid query: %s", err)},
				},
				IsError: true,
			}, nil, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Search failed: %s", err)},
			},
			IsError: true,
		}, nil, nil
	}

	return h.formatResults(result, args), nil, nil
}

// formatResults formats a result page for MCP response.
func (h *SearchHandler) formatResults(result *QueryResult, args SearchArgument) *mcp.CallToolResult {
	queryStr := args.Query
	if strings.TrimSpace(queryStr) == "" {
		queryStr = "*"
	}

	if result.Total == 0 {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("No files found for query: %s", queryStr)},
			},
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d files for '%s':\n\n", result.Total, queryStr))

	for i, key := range result.Keys {
		sb.WriteString(fmt.Sprintf("%d. %s\n", args.Start+i+1, key))
	}

	if remaining := result.Total - args.Start - len(result.Keys); remaining > 0 {
		sb.WriteString(fmt.Sprintf("\n... and %d more files (next start: %d)\n", remaining, args.Start+len(result.Keys)))
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: sb.String()},
		},
	}
}

// GetToolDefinition returns the MCP tool definition.
func (h *SearchHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "search_files",
		Description: "Search indexed files by path, directory, size and metadata. Returns matching file keys with paging and sorting",
	}
}

// RegisterSearchTool registers the search tool with an MCP server.
func RegisterSearchTool(server *mcp.Server, service *Service) {
	handler := NewSearchHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
