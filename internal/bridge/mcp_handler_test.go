package bridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webtoolbridge/bridge/internal/transport"
)

func rpcRequest(id, method string, params interface{}) []byte {
	paramsRaw, _ := json.Marshal(params)
	req := map[string]interface{}{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		req["params"] = json.RawMessage(paramsRaw)
	}
	body, _ := json.Marshal(req)
	return body
}

func decodeRPC(t *testing.T, resp *transport.HttpResponse) map[string]interface{} {
	t.Helper()
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body, &decoded))
	return decoded
}

func TestMCPHandler_InitializeRequiresAuthToken(t *testing.T) {
	b := newTestBridge(t)
	resp, sse := b.HandleHTTP(postJSON(rpcRequest("1", "initialize", nil), nil))
	require.Nil(t, sse)
	decoded := decodeRPC(t, resp)
	errObj, ok := decoded["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(CodeMissingAuthentication), errObj["message"])
}

func TestMCPHandler_InitializeIssuesSessionHeader(t *testing.T) {
	b := newTestBridge(t)
	resp, sse := b.HandleHTTP(postJSON(rpcRequest("1", "initialize", nil), map[string]string{"Authorization": "Bearer tok-a"}))
	require.Nil(t, sse)
	require.NotEmpty(t, resp.Headers["Mcp-Session-Id"])

	decoded := decodeRPC(t, resp)
	result, ok := decoded["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, protocolVersion, result["protocolVersion"])
}

func TestMCPHandler_ToolsListWithoutSessionsReturnsSoftError(t *testing.T) {
	b := newTestBridge(t)
	mcpSessionID := mustInitialize(t, b, "tok-a")

	resp, _ := b.HandleHTTP(postJSON(rpcRequest("2", "tools/list", nil), map[string]string{"Mcp-Session-Id": mcpSessionID}))
	decoded := decodeRPC(t, resp)
	result := decoded["result"].(map[string]interface{})
	assert.Equal(t, true, result["isError"])
}

func TestMCPHandler_ToolsListAggregatesAcrossSessions(t *testing.T) {
	b := newTestBridge(t)
	authenticate(t, b, "s1", "tok-a", "")
	require.Nil(t, b.RegisterTool("s1", RegisterToolMessage{Tool: struct {
		Name         string                 `json:"name"`
		Description  string                 `json:"description"`
		InputSchema  map[string]interface{} `json:"inputSchema,omitempty"`
		OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`
	}{Name: "click"}}))

	mcpSessionID := mustInitialize(t, b, "tok-a")
	resp, _ := b.HandleHTTP(postJSON(rpcRequest("2", "tools/list", nil), map[string]string{"Mcp-Session-Id": mcpSessionID}))
	decoded := decodeRPC(t, resp)
	result := decoded["result"].(map[string]interface{})
	tools := result["tools"].([]interface{})

	names := make([]string, 0, len(tools))
	for _, raw := range tools {
		tool := raw.(map[string]interface{})
		names = append(names, tool["name"].(string))
	}
	assert.Contains(t, names, "click")
	assert.Contains(t, names, ListSessionsToolName)
}

func TestMCPHandler_ToolsCallRoutesToOwningSession(t *testing.T) {
	b := newTestBridge(t)
	session, socket := authenticate(t, b, "s1", "tok-a", "")
	require.Nil(t, b.RegisterTool("s1", RegisterToolMessage{Tool: struct {
		Name         string                 `json:"name"`
		Description  string                 `json:"description"`
		InputSchema  map[string]interface{} `json:"inputSchema,omitempty"`
		OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`
	}{Name: "click"}}))
	_ = session

	mcpSessionID := mustInitialize(t, b, "tok-a")

	go func() {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			for _, raw := range socket.messages() {
				var decoded map[string]interface{}
				if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
					if id, ok := decoded["requestId"].(string); ok && id != "" {
						b.ToolResponse("s1", id, "clicked")
						return
					}
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()

	params := map[string]interface{}{"name": "click", "arguments": map[string]interface{}{}}
	resp, _ := b.HandleHTTP(postJSON(rpcRequest("3", "tools/call", params), map[string]string{"Mcp-Session-Id": mcpSessionID}))
	decoded := decodeRPC(t, resp)
	result := decoded["result"].(map[string]interface{})
	content := result["content"].([]interface{})
	first := content[0].(map[string]interface{})
	assert.Equal(t, "text", first["type"])
	assert.Equal(t, `"clicked"`, first["text"])
}

func TestMCPHandler_ToolsCallUnknownToolReturnsSoftError(t *testing.T) {
	b := newTestBridge(t)
	authenticate(t, b, "s1", "tok-a", "")
	mcpSessionID := mustInitialize(t, b, "tok-a")

	params := map[string]interface{}{"name": "nonexistent", "arguments": map[string]interface{}{}}
	resp, _ := b.HandleHTTP(postJSON(rpcRequest("3", "tools/call", params), map[string]string{"Mcp-Session-Id": mcpSessionID}))
	decoded := decodeRPC(t, resp)
	result := decoded["result"].(map[string]interface{})
	assert.Equal(t, true, result["isError"])
}

func TestMCPHandler_DeleteRemovesMCPSession(t *testing.T) {
	b := newTestBridge(t)
	mcpSessionID := mustInitialize(t, b, "tok-a")

	resp, _ := b.HandleHTTP(&fakeHTTPRequest{method: "DELETE", headers: map[string]string{"Mcp-Session-Id": mcpSessionID}})
	assert.Equal(t, 200, resp.Status)

	resp2, _ := b.HandleHTTP(&fakeHTTPRequest{method: "DELETE", headers: map[string]string{"Mcp-Session-Id": mcpSessionID}})
	assert.Equal(t, 404, resp2.Status)
}

func TestMCPHandler_SSEWithoutSessionHeaderWritesErrorAndNeverAttaches(t *testing.T) {
	b := newTestBridge(t)
	resp, sse := b.HandleHTTP(&fakeHTTPRequest{method: "GET", headers: map[string]string{"Accept": "text/event-stream"}})
	require.Nil(t, resp)
	require.NotNil(t, sse)

	writer := &fakeSSEWriter{}
	registered := false
	sse.Setup(writer, func(func()) { registered = true })

	assert.False(t, registered)
	require.Len(t, writer.events, 1)
	assert.Contains(t, writer.events[0], "error:")
}

func mustInitialize(t *testing.T, b *Bridge, token string) string {
	t.Helper()
	resp, _ := b.HandleHTTP(postJSON(rpcRequest("1", "initialize", nil), map[string]string{"Authorization": "Bearer " + token}))
	require.NotEmpty(t, resp.Headers["Mcp-Session-Id"])
	return resp.Headers["Mcp-Session-Id"]
}
