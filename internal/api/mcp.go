package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pkorolov/weir/internal/coordinator"
	"github.com/pkorolov/weir/internal/ingest"
	"github.com/pkorolov/weir/internal/routing"
	"github.com/pkorolov/weir/internal/telemetry"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Service   QueryService
	Telemetry TelemetryReader
	Ingestor  *ingest.Ingestor // optional; if nil, add_knowledge returns an error
}

// NewMCPServer creates an MCP server exposing the coordinator over stdio
// for editor and agent integrations.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"weir",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("weir: hybrid query coordinator with learned context. Ask questions, recall stored knowledge, and inspect learning stats."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question through the hybrid coordinator: retrieves learned context, routes to a local or remote model, and records the interaction."),
			mcp.WithString("query", mcp.Description("The question to ask"), mcp.Required()),
			mcp.WithString("mode", mcp.Description("Routing mode: auto (default), local_only, or remote_only")),
			mcp.WithString("category", mcp.Description("Optional category tag, e.g. error-fix")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Semantically search stored interactions, patterns, and knowledge without invoking a model."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("stats",
			mcp.WithDescription("Return learning statistics: interaction counts, backend split, average value score, and estimated savings."),
		),
		mcpStats(deps),
	)

	s.AddTool(
		mcp.NewTool("add_knowledge",
			mcp.WithDescription("Store a piece of curated knowledge for later retrieval."),
			mcp.WithString("title", mcp.Description("Title for the knowledge entry")),
			mcp.WithString("content", mcp.Description("The text content to store"), mcp.Required()),
			mcp.WithArray("tags", mcp.Description("Optional tags for categorization")),
		),
		mcpAddKnowledge(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		var mode routing.Mode
		if m := req.GetString("mode", ""); m != "" {
			mode, err = routing.ParseMode(m)
			if err != nil {
				return mcpError(err.Error()), nil
			}
		}

		answer, err := deps.Service.Ask(ctx, query, coordinator.Options{
			Mode:     mode,
			Category: req.GetString("category", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		b, err := json.Marshal(answer)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		matches, err := deps.Service.Recall(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}
		if len(matches) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(matchResults(matches))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		records, err := deps.Telemetry.ReadAll()
		if err != nil {
			return mcpError(fmt.Sprintf("reading telemetry: %v", err)), nil
		}

		b, err := json.Marshal(telemetry.ComputeStats(records))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Ingestor == nil {
			return mcpError("knowledge ingestion not available"), nil
		}

		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		ids, err := deps.Ingestor.IngestDocument(ctx, ingest.Document{
			Title:   req.GetString("title", ""),
			Content: content,
			Source:  "mcp",
			Tags:    req.GetStringSlice("tags", nil),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored %d knowledge chunk(s): %v", len(ids), ids)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
