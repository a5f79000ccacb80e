package stdhttp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/webtoolbridge/bridge/internal/bridge"
)

// HTTPAgentClient implements bridge.AgentClient against the external agent
// server (spec §1 "the agent server ... that executes LLM queries", §4.7
// step 3: "PUT /query/{uuid}"). The agent is expected to stream newline-
// delimited JSON progress objects, one final line carrying the terminal
// result.
type HTTPAgentClient struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPAgentClient(baseURL string) *HTTPAgentClient {
	return &HTTPAgentClient{BaseURL: baseURL, Client: http.DefaultClient}
}

type agentStreamLine struct {
	Progress  string                   `json:"progress,omitempty"`
	Done      bool                     `json:"done,omitempty"`
	Message   string                   `json:"message,omitempty"`
	ToolCalls []map[string]interface{} `json:"toolCalls,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

func (c *HTTPAgentClient) RunQuery(ctx context.Context, queryID, prompt string, queryCtx map[string]interface{}, onProgress func(bridge.AgentProgress)) (*bridge.AgentResult, error) {
	if c.BaseURL == "" {
		return nil, bridge.NewError(bridge.CodeInternalError, "no agent URL configured")
	}

	payload, err := json.Marshal(map[string]interface{}{"prompt": prompt, "context": queryCtx})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/query/%s", c.BaseURL, queryID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("agent returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var item agentStreamLine
		if err := json.Unmarshal(line, &item); err != nil {
			continue
		}
		if item.Done {
			if item.Error != "" {
				return nil, fmt.Errorf("%s", item.Error)
			}
			return &bridge.AgentResult{Message: item.Message, ToolCalls: item.ToolCalls}, nil
		}
		if item.Progress != "" {
			onProgress(bridge.AgentProgress{Message: item.Progress})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("agent stream ended without a terminal result")
}
