package fileindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// TermsArgument defines term listing parameters.
type TermsArgument struct {
	Field string `json:"field" jsonschema_description:"Indexed field name (e.g., fileName, directory, size_numeric, or a metadata key)"`
	After string `json:"after,omitempty" jsonschema_description:"Only list values strictly greater than this one; use the last value of a previous call to continue"`
	Limit int    `json:"limit,omitempty" jsonschema_description:"Maximum number of values to return"`
}

// TermsHandler handles the term listing MCP tool.
type TermsHandler struct {
	service *Service
}

// NewTermsHandler creates a new terms handler.
func NewTermsHandler(service *Service) *TermsHandler {
	return &TermsHandler{
		service: service,
	}
}

// Handle lists the distinct values of a field in ascending order.
func (h *TermsHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args TermsArgument) (*mcp.CallToolResult, any, error) {
	if !h.service.IsReady() {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: "Term listing is not available. The file index is not ready. Please try again later."},
			},
			IsError: true,
		}, nil, nil
	}

	field := strings.TrimSpace(args.Field)
	if field == "" {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: "Field cannot be empty"},
			},
			IsError: true,
		}, nil, nil
	}

	maxTerms := h.service.Settings().MaxTerms
	limit := args.Limit
	if limit <= 0 || limit > maxTerms {
		limit = maxTerms
	}

	terms := make([]string, 0, limit)
	more := false
	for term, err := range h.service.GetTermsFor(ctx, field, args.After) {
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					&mcp.TextContent{Text: fmt.Sprintf("Failed to list terms: %s", err)},
				},
				IsError: true,
			}, nil, nil
		}
		if len(terms) == limit {
			more = true
			break
		}
		terms = append(terms, term)
	}

	if len(terms) == 0 {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("No values found for field: %s", field)},
			},
		}, nil, nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Values of '%s':\n\n", field))
	for _, term := range terms {
		sb.WriteString(term)
		sb.WriteString("\n")
	}
	if more {
		sb.WriteString(fmt.Sprintf("\n... more values available (after: %s)\n", terms[len(terms)-1]))
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: sb.String()},
		},
	}, nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *TermsHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "list_terms",
		Description: "List the distinct indexed values of a field in ascending order, for discovering what to search for",
	}
}

// RegisterTermsTool registers the terms tool with an MCP server.
func RegisterTermsTool(server *mcp.Server, service *Service) {
	handler := NewTermsHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
