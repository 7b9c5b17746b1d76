package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/teleprompt/autocue/internal/corpus"
	"github.com/teleprompt/autocue/internal/pipeline"
	"github.com/teleprompt/autocue/internal/retrieval"
)

// MCPSearcher abstracts example similarity search for the MCP layer.
type MCPSearcher interface {
	Search(queryVec []float32, topK int, minSim float32) ([]retrieval.Match, error)
}

// MCPEmbedder produces a query embedding for search.
type MCPEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Manager      *corpus.Manager
	Formatter    Formatter
	Searcher     MCPSearcher
	Embedder     MCPEmbedder
	DefaultModel string
}

// NewMCPServer creates an MCP server with the autocue tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"autocue",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("autocue — turn raw transcripts into teleprompter-ready scripts using labeled before/after examples."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("format_script",
			mcp.WithDescription("Rewrite a raw transcript into a polished teleprompter script."),
			mcp.WithString("input", mcp.Description("The raw transcript text"), mcp.Required()),
			mcp.WithString("model", mcp.Description("Model override (optional)")),
			mcp.WithArray("enabled_example_ids", mcp.Description("Restrict retrieval to these example IDs")),
		),
		mcpFormatScript(deps),
	)

	s.AddTool(
		mcp.NewTool("search_examples",
			mcp.WithDescription("Semantically search the example corpus and return the closest before/after pairs."),
			mcp.WithString("query", mcp.Description("Search text"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchExamples(deps),
	)

	s.AddTool(
		mcp.NewTool("upload_example",
			mcp.WithDescription("Add a before/after example pair to the corpus."),
			mcp.WithString("title", mcp.Description("Title for the example"), mcp.Required()),
			mcp.WithString("before_text", mcp.Description("The raw text"), mcp.Required()),
			mcp.WithString("after_text", mcp.Description("The formatted text"), mcp.Required()),
			mcp.WithString("category", mcp.Description("Category (educational, business, narrative, interview, documentary, user-custom)")),
		),
		mcpUploadExample(deps),
	)

	s.AddTool(
		mcp.NewTool("list_examples",
			mcp.WithDescription("List all examples in the corpus (metadata only)."),
		),
		mcpListExamples(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"autocue://examples",
			"Example Corpus",
			mcp.WithResourceDescription("All example records as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceExamples(deps),
	)

	return s
}

func mcpFormatScript(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := req.RequireString("input")
		if err != nil {
			return mcpError("input is required"), nil
		}

		model := req.GetString("model", deps.DefaultModel)
		enabledIDs := req.GetStringSlice("enabled_example_ids", nil)

		result, err := deps.Formatter.Process(ctx, pipeline.Request{
			InputText:         input,
			Model:             model,
			EnabledExampleIDs: enabledIDs,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("formatting failed: %v", err)), nil
		}

		return mcpText(result.Text), nil
	}
}

func mcpSearchExamples(deps MCPDeps) server.ToolHandlerFunc {
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

		vec, err := deps.Embedder.Embed(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("embedding query: %v", err)), nil
		}

		matches, err := deps.Searcher.Search(vec, limit, retrieval.DefaultMinSimilarity)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(matches) == 0 {
			return mcpText("[]"), nil
		}

		type matchResult struct {
			ID       string  `json:"id"`
			Title    string  `json:"title"`
			Category string  `json:"category"`
			Score    float32 `json:"score"`
		}

		results := make([]matchResult, len(matches))
		for i, m := range matches {
			results[i] = matchResult{
				ID:       m.Record.ID,
				Title:    m.Record.Title,
				Category: string(m.Record.Category),
				Score:    m.Score,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpUploadExample(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}
		before, err := req.RequireString("before_text")
		if err != nil {
			return mcpError("before_text is required"), nil
		}
		after, err := req.RequireString("after_text")
		if err != nil {
			return mcpError("after_text is required"), nil
		}

		id, err := deps.Manager.Upload(ctx, before, after, corpus.UploadMeta{
			Title:    title,
			Category: corpus.Category(req.GetString("category", "")),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("upload failed: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Uploaded example %s", id)), nil
	}
}

func mcpListExamples(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		records, err := deps.Manager.List()
		if err != nil {
			return mcpError(fmt.Sprintf("listing examples: %v", err)), nil
		}

		type exampleSummary struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Category  string `json:"category"`
			WordCount int    `json:"word_count"`
			Source    string `json:"source"`
		}

		summaries := make([]exampleSummary, len(records))
		for i, rec := range records {
			summaries[i] = exampleSummary{
				ID:        rec.ID,
				Title:     rec.Title,
				Category:  string(rec.Category),
				WordCount: rec.WordCount,
				Source:    string(rec.Source),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal examples: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceExamples(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, err := deps.Manager.List()
		if err != nil {
			return nil, fmt.Errorf("listing examples: %w", err)
		}

		views := make([]exampleView, len(records))
		for i, rec := range records {
			views[i] = viewOf(rec)
		}

		b, err := json.Marshal(views)
		if err != nil {
			return nil, fmt.Errorf("marshaling examples: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
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
