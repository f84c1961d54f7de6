package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestNewMCPServer_RegistersTools(t *testing.T) {
	env := newTestEnv(t, nil)
	s := NewMCPServer(env.mcp)
	require.NotNil(t, s)
	tools := s.ListTools()
	for _, name := range []string{"search_knowledge", "get_context", "extract_actions"} {
		assert.Contains(t, tools, name)
	}
}

func TestMCPTool_SearchKnowledge(t *testing.T) {
	env := newTestEnv(t, nil)
	ids := env.ingestReview(t, "u-alice", "회의 자료를 항상 미리 공유함")

	result, err := mcpSearchKnowledge(env.mcp)(context.Background(), makeCallToolRequest("search_knowledge", map[string]interface{}{
		"query":  "회의",
		"userId": "u-alice",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, toolText(t, result))

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &out))
	assert.Equal(t, ids, resultIDs(out))

	result, err = mcpSearchKnowledge(env.mcp)(context.Background(), makeCallToolRequest("search_knowledge", map[string]interface{}{
		"query":  "회의",
		"userId": "u-bob",
	}))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &out))
	assert.Empty(t, resultIDs(out))
}

func TestMCPTool_SearchKnowledgeRequiresUser(t *testing.T) {
	env := newTestEnv(t, nil)
	result, err := mcpSearchKnowledge(env.mcp)(context.Background(), makeCallToolRequest("search_knowledge", map[string]interface{}{
		"query": "회의",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(t, result), "userId")
}

func TestMCPTool_GetContext(t *testing.T) {
	env := newTestEnv(t, nil)
	env.ingestReview(t, "u-alice", "회의 자료를 항상 미리 공유함")

	result, err := mcpGetContext(env.mcp)(context.Background(), makeCallToolRequest("get_context", map[string]interface{}{
		"query":    "회의",
		"userId":   "u-alice",
		"maxChars": 30,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, toolText(t, result))
	text := toolText(t, result)
	assert.LessOrEqual(t, len([]rune(text)), 30)
	assert.Contains(t, text, "[peer_feedback]")
}

func TestMCPTool_ExtractActions(t *testing.T) {
	env := newTestEnv(t, nil)
	result, err := mcpExtractActions(env.mcp)(context.Background(), makeCallToolRequest("extract_actions", map[string]interface{}{
		"text":           "내일 오후 3시에 클라이언트 미팅 잡아줘",
		"conversationId": "c1",
		"messageId":      "m1",
		"roster":         `[{"id":"u-minsu","name":"민수"}]`,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, toolText(t, result))

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &out))
	assert.Equal(t, "m1", out["messageId"])
	require.Len(t, out["actions"], 1)

	as, err := env.store.ListActionsByMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.Len(t, as, 1)
}

func TestMCPTool_ExtractActionsBadRoster(t *testing.T) {
	env := newTestEnv(t, nil)
	result, err := mcpExtractActions(env.mcp)(context.Background(), makeCallToolRequest("extract_actions", map[string]interface{}{
		"text":           "내일 오후 3시에 클라이언트 미팅 잡아줘",
		"conversationId": "c1",
		"roster":         `not json`,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
