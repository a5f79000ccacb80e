package stdhttp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webtoolbridge/bridge/internal/bridge"
)

func TestHTTPAgentClient_RunQueryCollectsProgressThenResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/query/q1", r.URL.Path)
		fmt.Fprintln(w, `{"progress":"thinking"}`)
		fmt.Fprintln(w, `{"progress":"clicking"}`)
		fmt.Fprintln(w, `{"done":true,"message":"done","toolCalls":[{"tool":"click"}]}`)
	}))
	defer server.Close()

	client := NewHTTPAgentClient(server.URL)
	var progress []string
	result, err := client.RunQuery(context.Background(), "q1", "go click it", nil, func(p bridge.AgentProgress) {
		progress = append(progress, p.Message)
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"thinking", "clicking"}, progress)
	assert.Equal(t, "done", result.Message)
	assert.Equal(t, []map[string]interface{}{{"tool": "click"}}, result.ToolCalls)
}

func TestHTTPAgentClient_RunQueryPropagatesTerminalError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"done":true,"error":"agent exploded"}`)
	}))
	defer server.Close()

	client := NewHTTPAgentClient(server.URL)
	_, err := client.RunQuery(context.Background(), "q1", "go", nil, func(bridge.AgentProgress) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent exploded")
}

func TestHTTPAgentClient_RunQueryErrorsOnStreamWithoutTerminalLine(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"progress":"thinking"}`)
	}))
	defer server.Close()

	client := NewHTTPAgentClient(server.URL)
	_, err := client.RunQuery(context.Background(), "q1", "go", nil, func(bridge.AgentProgress) {})
	require.Error(t, err)
}

func TestHTTPAgentClient_RunQueryErrorsOnHTTPFailureStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPAgentClient(server.URL)
	_, err := client.RunQuery(context.Background(), "q1", "go", nil, func(bridge.AgentProgress) {})
	require.Error(t, err)
}

func TestHTTPAgentClient_RunQueryRequiresBaseURL(t *testing.T) {
	client := NewHTTPAgentClient("")
	_, err := client.RunQuery(context.Background(), "q1", "go", nil, func(bridge.AgentProgress) {})
	require.Error(t, err)
}
