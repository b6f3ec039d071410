package server

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func TestMCPListTools(t *testing.T) {
	srv := NewMCPServer(testEngine(), testFlows(), nil)

	msg := srv.MCPServer().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var resp struct {
		Result struct {
			Tools []struct {
				Name        string         `json:"name"`
				Description string         `json:"description"`
				InputSchema map[string]any `json:"inputSchema"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Len(t, resp.Result.Tools, 2)

	names := []string{resp.Result.Tools[0].Name, resp.Result.Tools[1].Name}
	assert.ElementsMatch(t, []string{"broken", "test-flow"}, names)

	for _, tool := range resp.Result.Tools {
		if tool.Name != "test-flow" {
			continue
		}
		assert.Equal(t, "Greets the caller", tool.Description)
		assert.Equal(t, []any{"name"}, tool.InputSchema["required"])
	}
}

func TestMCPBuildInputSchema(t *testing.T) {
	schema := buildInputSchema(testFlows()["test-flow"])
	props := schema["properties"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "string", "description": "Who to greet"}, props["name"])
	assert.Equal(t, []string{"name"}, schema["required"])

	empty := buildInputSchema(testFlows()["broken"])
	assert.Equal(t, map[string]any{"type": "object"}, empty)
}

func TestMCPCallFlow(t *testing.T) {
	srv := NewMCPServer(testEngine(), testFlows(), nil)

	result, err := srv.handleCallFlow(testFlows()["test-flow"])(context.Background(), callRequest(map[string]any{"name": "Ada"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var run map[string]any
	require.NoError(t, json.Unmarshal([]byte(extractText(t, result)), &run))
	assert.Equal(t, "success", run["status"])
	output := run["output"].([]any)
	assert.Equal(t, "Hello Ada", output[0].(map[string]any)["json"].(map[string]any)["message"])
}

func TestMCPCallFlowErrors(t *testing.T) {
	srv := NewMCPServer(testEngine(), testFlows(), nil)

	// Missing required input.
	result, err := srv.handleCallFlow(testFlows()["test-flow"])(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.True(t, strings.HasPrefix(extractText(t, result), "error: validation failed"))

	// Flow runs but fails.
	result, err = srv.handleCallFlow(testFlows()["broken"])(context.Background(), callRequest(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), `"status": "failed"`)
}
