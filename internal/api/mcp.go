package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/amelabs/ame/internal/memory"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Repo    Repo
	Jobs    JobRunner
	History JobHistory // optional; if nil, ame://jobs omits last-run outcomes
}

// NewMCPServer creates an MCP server with the memory tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"ame",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("ame — personal memory backend for storing, recalling and forgetting documents."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("remember",
			mcp.WithDescription("Store a document in the memory backend for later recall."),
			mcp.WithString("content", mcp.Description("The text content to remember"), mcp.Required()),
			mcp.WithNumber("importance", mcp.Description("Importance in [0,1]; protects the document from expiry (default 0.5)")),
			mcp.WithString("refs", mcp.Description("Comma-separated ids of related documents")),
		),
		mcpRemember(deps),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Search the memory backend and return the most relevant documents."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("forget",
			mcp.WithDescription("Remove a document from the memory backend."),
			mcp.WithString("id", mcp.Description("Document id to forget"), mcp.Required()),
		),
		mcpForget(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"ame://jobs",
			"Maintenance Jobs",
			mcp.WithResourceDescription("Registered maintenance jobs with schedules and last outcomes"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceJobs(deps),
	)

	return s
}

func mcpRemember(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		importance := req.GetFloat("importance", defaultImportance)
		refs := req.GetString("refs", "")

		doc := memory.Document{
			Content:    content,
			Importance: importance,
		}
		if refs != "" {
			doc.SetMeta(memory.MetaRefs, refs)
		}

		stored, err := deps.Repo.Upsert(ctx, doc)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to remember: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Remembered document %s", stored.ID)), nil
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

		results, err := deps.Repo.Search(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}

		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		type recallResult struct {
			ID          string  `json:"id"`
			Content     string  `json:"content"`
			Score       float64 `json:"score"`
			Importance  float64 `json:"importance"`
			Temperature string  `json:"temperature"`
		}

		out := make([]recallResult, len(results))
		for i, res := range results {
			out[i] = recallResult{
				ID:          res.Document.ID,
				Content:     res.Document.Content,
				Score:       res.Score,
				Importance:  res.Document.Importance,
				Temperature: string(res.Document.Temperature),
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpForget(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		if err := deps.Repo.Delete(ctx, id); err != nil {
			return mcpError(fmt.Sprintf("failed to forget %s: %v", id, err)), nil
		}

		return mcpText(fmt.Sprintf("Forgot document %s", id)), nil
	}
}

func mcpResourceJobs(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		outcomes := make(map[string]jobRunView)
		if deps.History != nil {
			runs, err := deps.History.ListJobRuns()
			if err != nil {
				return nil, fmt.Errorf("failed to list job runs: %w", err)
			}
			for _, run := range runs {
				outcomes[run.Name] = jobRunView{
					StartedAt:  run.StartedAt.Format(time.RFC3339),
					DurationMs: run.Duration.Milliseconds(),
					Success:    run.Success,
					Error:      run.Error,
				}
			}
		}

		statuses := deps.Jobs.Jobs()
		views := make([]jobView, len(statuses))
		for i, status := range statuses {
			views[i] = jobView{JobStatus: status}
			if run, ok := outcomes[status.Name]; ok {
				runCopy := run
				views[i].LastRun = &runCopy
			}
		}

		b, err := json.Marshal(views)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal jobs: %w", err)
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
