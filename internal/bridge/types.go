// Package bridge implements the runtime-agnostic core of the MCP
// browser-tool bridge: the session/auth fleet (C3/C4), the tool-call
// correlator (C5), the MCP protocol handler (C6), the SSE notifier (C7),
// the frontend query pipeline (C8), the built-in tool catalog (C9), and
// the lifecycle controller (C10). It never performs I/O: callers hand it
// transport.HttpRequest/WebSocketConnection/SSEWriter values and it hands
// back transport.HttpResponse/SSEResponse values plus send() calls on the
// socket it was given.
package bridge

import (
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/webtoolbridge/bridge/internal/transport"
)

// ToolDefinition mirrors spec §3: a JSON-Schema-described tool with no
// handler attached — the handler lives in the browser tab that registered
// it, and is invoked indirectly via the correlator (C5).
type ToolDefinition struct {
	Name         string
	Description  string
	InputSchema  map[string]interface{}
	OutputSchema map[string]interface{}
}

// ResourceDefinition and PromptDefinition are the MCP resources/prompts
// analog of ToolDefinition (spec §4.5 "resources/list, prompts/list ...
// the same aggregation pattern as tools").
type ResourceDefinition struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

type PromptDefinition struct {
	Name        string
	Description string
	Arguments   []mcp.PromptArgument
}

// Session is the frontend session (spec §3 "Session (frontend)").
type Session struct {
	mu sync.RWMutex

	SessionID     string
	AuthToken     string
	SessionName   string
	Origin        string
	PageTitle     string
	UserAgent     string
	ConnectedAt   time.Time
	LastActivity  time.Time
	Socket        transport.WebSocketConnection

	tools     map[string]ToolDefinition
	resources map[string]ResourceDefinition
	prompts   map[string]PromptDefinition

	inFlightQueries map[string]*Query
}

func newSession(sessionID, authToken, sessionName, origin, pageTitle, userAgent string, socket transport.WebSocketConnection, now time.Time) *Session {
	return &Session{
		SessionID:       sessionID,
		AuthToken:       authToken,
		SessionName:     sessionName,
		Origin:          origin,
		PageTitle:       pageTitle,
		UserAgent:       userAgent,
		ConnectedAt:     now,
		LastActivity:    now,
		Socket:          socket,
		tools:           make(map[string]ToolDefinition),
		resources:       make(map[string]ResourceDefinition),
		prompts:         make(map[string]PromptDefinition),
		inFlightQueries: make(map[string]*Query),
	}
}

// Touch updates LastActivity. Called for the frontend `activity` message
// (spec §4.3 "activity").
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.LastActivity = now
	s.mu.Unlock()
}

// Tools returns a snapshot of the session's registered tools.
func (s *Session) Tools() []ToolDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ToolDefinition, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t)
	}
	return out
}

// Tool looks up one tool by name.
func (s *Session) Tool(name string) (ToolDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[name]
	return t, ok
}

func (s *Session) setTool(t ToolDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[t.Name] = t
}

func (s *Session) Resources() []ResourceDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ResourceDefinition, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, r)
	}
	return out
}

func (s *Session) Prompts() []PromptDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PromptDefinition, 0, len(s.prompts))
	for _, p := range s.prompts {
		out = append(out, p)
	}
	return out
}

func (s *Session) snapshot() (connectedAt, lastActivity time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ConnectedAt, s.LastActivity
}

func (s *Session) inFlightQueryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.inFlightQueries)
}

// MCPSession is the MCP-facing session created on `initialize` (spec §3
// "MCP Session").
type MCPSession struct {
	mu sync.Mutex

	MCPSessionID string
	AuthToken    string
	sseWriter    transport.SSEWriter
	onSSEClose   func()
}

func newMCPSession(id, token string) *MCPSession {
	return &MCPSession{MCPSessionID: id, AuthToken: token}
}

func (m *MCPSession) attachSSE(w transport.SSEWriter, detach func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sseWriter = w
	m.onSSEClose = detach
}

func (m *MCPSession) detachSSE() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sseWriter = nil
	m.onSSEClose = nil
}

func (m *MCPSession) writer() transport.SSEWriter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sseWriter
}

// PendingToolCall is one in-flight MCP tools/call awaiting a frontend
// tool-response (spec §3 "PendingToolCall", §4.4).
type PendingToolCall struct {
	RequestID string
	StartedAt time.Time
	Deadline  time.Time
	timerID   interface{}
	done      chan struct{}
	result    interface{}
	err       error
	once      sync.Once
}

// Query is a frontend-originated agent query proxied by C8 (spec §3
// "Query").
type Query struct {
	UUID      string
	SessionID string
	AuthToken string
	cancel    func()
	reasonCh  chan string
}
