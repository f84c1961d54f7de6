package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     messageStore
	Retriever Searcher
	Context   ContextBuilder
	Actions   Actions
	MaxChars  int
}

// NewMCPServer creates an MCP server exposing knowledge search, context
// building and action extraction as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.MaxChars <= 0 {
		deps.MaxChars = defaultMaxChars
	}
	s := server.NewMCPServer(
		"brain",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("Team knowledge base built from chat digests, executed actions and peer reviews."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge",
			mcp.WithDescription("Semantically search team knowledge visible to a user."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("userId", mcp.Description("User the search runs as"), mcp.Required()),
			mcp.WithArray("scopes", mcp.Description("Scopes to search: personal, team, role, global (default all)")),
			mcp.WithString("projectId", mcp.Description("Narrow team items to a project")),
			mcp.WithString("roleTag", mcp.Description("Narrow role items to a role")),
			mcp.WithNumber("threshold", mcp.Description("Minimum cosine similarity (default 0.3)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("get_context",
			mcp.WithDescription("Build a character-bounded knowledge block for a prompt."),
			mcp.WithString("query", mcp.Description("Text to find context for"), mcp.Required()),
			mcp.WithString("userId", mcp.Description("User the search runs as"), mcp.Required()),
			mcp.WithString("projectId", mcp.Description("Narrow team items to a project")),
			mcp.WithNumber("maxChars", mcp.Description("Character budget (default 800)")),
		),
		mcpGetContext(deps),
	)

	s.AddTool(
		mcp.NewTool("extract_actions",
			mcp.WithDescription("Record a chat message and extract pending todo, event and location actions from it."),
			mcp.WithString("text", mcp.Description("Message text"), mcp.Required()),
			mcp.WithString("conversationId", mcp.Description("Conversation the message belongs to"), mcp.Required()),
			mcp.WithString("messageId", mcp.Description("Message id; generated when omitted")),
			mcp.WithString("projectId", mcp.Description("Project of the conversation")),
			mcp.WithString("authorId", mcp.Description("Author user id")),
			mcp.WithString("authorName", mcp.Description("Author display name")),
			mcp.WithString("roster", mcp.Description("JSON array of {id, name} participants")),
		),
		mcpExtractActions(deps),
	)

	return s
}

func searchFromTool(req mcp.CallToolRequest) (searchParams, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return searchParams{}, fmt.Errorf("query is required")
	}
	userID, err := req.RequireString("userId")
	if err != nil {
		return searchParams{}, fmt.Errorf("userId is required")
	}
	return searchParams{
		Query:     query,
		UserID:    userID,
		Scopes:    req.GetStringSlice("scopes", nil),
		ProjectID: req.GetString("projectId", ""),
		RoleTag:   req.GetString("roleTag", ""),
		Threshold: req.GetFloat("threshold", 0),
		Limit:     req.GetInt("limit", 0),
	}, nil
}

func mcpSearchKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		p, err := searchFromTool(req)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if p.Limit > 50 {
			p.Limit = 50
		}
		q, err := p.toQuery()
		if err != nil {
			return mcpError(err.Error()), nil
		}
		resp, err := deps.Retriever.Search(ctx, q)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcpJSON(map[string]any{
			"queryId": resp.QueryID,
			"results": toWireResults(resp.Results),
		})
	}
}

func mcpGetContext(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		p, err := searchFromTool(req)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		q, err := p.toQuery()
		if err != nil {
			return mcpError(err.Error()), nil
		}
		maxChars := req.GetInt("maxChars", deps.MaxChars)
		if maxChars < 0 {
			return mcpError("maxChars must not be negative"), nil
		}
		packed, _, err := deps.Context.Context(ctx, q, maxChars)
		if err != nil {
			return mcpError(fmt.Sprintf("context failed: %v", err)), nil
		}
		return mcpText(packed.Text), nil
	}
}

func mcpExtractActions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		conv, err := req.RequireString("conversationId")
		if err != nil {
			return mcpError("conversationId is required"), nil
		}
		p := messageParams{
			ID:             req.GetString("messageId", ""),
			ConversationID: conv,
			ProjectID:      req.GetString("projectId", ""),
			AuthorID:       req.GetString("authorId", ""),
			AuthorName:     req.GetString("authorName", ""),
			Text:           text,
		}
		if raw := req.GetString("roster", ""); raw != "" {
			var roster []brain.Participant
			if err := json.Unmarshal([]byte(raw), &roster); err != nil {
				return mcpError(fmt.Sprintf("invalid roster: %v", err)), nil
			}
			p.Roster = roster
		}

		m, out, err := recordMessage(ctx, deps.Store, deps.Actions, p, time.Now())
		if err != nil {
			return mcpError(fmt.Sprintf("extraction failed: %v", err)), nil
		}
		return mcpJSON(map[string]any{
			"messageId": m.ID,
			"actions":   toWireActions(out.Actions),
			"source":    out.Source,
			"reply":     out.Reply,
		})
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
