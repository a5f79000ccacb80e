package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/webtoolbridge/bridge/internal/scheduler"
	"github.com/webtoolbridge/bridge/internal/transport"
	"github.com/webtoolbridge/bridge/pkg/logging"
)

// Bridge is the runtime-agnostic core described in spec §2: it owns C3
// through C9 and is driven by an adapter's onWebSocketConnect/Message/Close
// and onHttpRequest calls (spec §4.2). Multiple Bridge instances in one
// process are independent (spec §9 "Global mutable state").
type Bridge struct {
	config    Config
	scheduler scheduler.Scheduler

	registry   *Registry
	correlator *Correlator
	sse        *SSENotifier
	queries    *QueryPipeline

	mcpMu       sync.RWMutex
	mcpSessions map[string]*MCPSession

	// toolsGroup dedupes concurrent tools/list aggregation for the same
	// token: many MCP clients sharing a token can poll tools/list at once,
	// and the underlying registry scan is redundant work for all but one.
	toolsGroup singleflight.Group

	sweepID scheduler.ID

	closeOnce sync.Once
}

// New constructs a Bridge. agent may be nil if the deployment does not wire
// the query pipeline (C8 becomes inert: every `query` message fails with
// "InternalError: no agent configured for this bridge").
func New(config Config, sched scheduler.Scheduler, agent AgentClient) *Bridge {
	if sched == nil {
		sched = scheduler.NewTimerScheduler()
	}
	if config.DefaultToolCallTimeout <= 0 {
		config.DefaultToolCallTimeout = 30 * time.Second
	}
	if config.SessionSweepInterval <= 0 {
		config.SessionSweepInterval = 60 * time.Second
	}

	b := &Bridge{
		config:      config,
		scheduler:   sched,
		correlator:  NewCorrelator(sched),
		sse:         NewSSENotifier(),
		mcpSessions: make(map[string]*MCPSession),
	}
	b.registry = NewRegistry(config.MaxSessionsPerToken, config.OnSessionLimitExceeded, b.sse.NotifyListChanged)
	if agent == nil {
		agent = unconfiguredAgent{}
	}
	b.queries = NewQueryPipeline(agent, config.MaxInFlightQueriesPerToken)

	b.sweepID = sched.ScheduleInterval(b.sweepSessions, config.SessionSweepInterval)

	return b
}

// sweepSessions implements C10's periodic task: close any session whose age
// exceeds SessionMaxDuration (spec §4.3 "Session sweep").
func (b *Bridge) sweepSessions() {
	if b.config.SessionMaxDuration <= 0 {
		return
	}
	now := time.Now()
	for _, s := range b.registry.AllSessions() {
		connectedAt, _ := s.snapshot()
		if now.Sub(connectedAt) > b.config.SessionMaxDuration {
			b.CloseSession(s.SessionID, 1008, "Session duration exceeded")
		}
	}
}

// Registry exposes C3/C4 for the MCP handler and adapters that need direct
// read access (e.g. to render diagnostics).
func (b *Bridge) Registry() *Registry { return b.registry }

// SSEKeepalive writes a comment frame to every open MCP SSE stream. The
// adapter drives this on its own ticker (spec §4.6 keepalive is optional,
// but long-lived proxies/load balancers between the MCP client and this
// server tend to time out an idle stream well before that).
func (b *Bridge) SSEKeepalive() { b.sse.Keepalive() }

// --- Frontend WebSocket protocol (spec §6) ---

// AuthenticateMessage mirrors the frontend `authenticate` message.
type AuthenticateMessage struct {
	AuthToken   string `json:"authToken"`
	SessionName string `json:"sessionName,omitempty"`
	Origin      string `json:"origin"`
	PageTitle   string `json:"pageTitle,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
}

// RegisterToolMessage mirrors the frontend `register-tool` message.
type RegisterToolMessage struct {
	Tool struct {
		Name         string                 `json:"name"`
		Description  string                 `json:"description"`
		InputSchema  map[string]interface{} `json:"inputSchema,omitempty"`
		OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`
	} `json:"tool"`
}

// Authenticate handles the frontend `authenticate` message (spec §4.3). It
// only updates the registry and tears down evicted sessions' pending work;
// it sends no frames and closes no socket. The caller does that from the
// returned outcome (HandleWebSocketMessage sends the `authenticated` /
// `authentication-failed` frames and performs the closes).
func (b *Bridge) Authenticate(sessionID string, msg AuthenticateMessage, socket transport.WebSocketConnection) AuthenticateResult {
	result := b.registry.Authenticate(sessionID, msg.AuthToken, msg.SessionName, msg.Origin, msg.PageTitle, msg.UserAgent, socket, time.Now())
	if result.Err != nil {
		logging.Audit(logging.AuditEvent{Action: "session_authenticate", Outcome: "failure", SessionID: sessionID, Token: msg.AuthToken, Error: string(result.Err.Code)})
		return result
	}

	// The registry has already unindexed any close_oldest eviction, but it
	// only owns the maps: the evicted session's pending tool-calls and
	// in-flight queries are this package's state, so they have to be torn
	// down here too, or they'd run to their own timeouts orphaned from a
	// session that no longer exists (invariant 4).
	for _, evicted := range result.Evicted {
		b.correlator.AbortSession(evicted.SessionID)
		b.queries.CancelSession(evicted)
	}

	logging.Audit(logging.AuditEvent{Action: "session_authenticate", Outcome: "success", SessionID: sessionID, Token: msg.AuthToken})
	return result
}

// RegisterTool handles the frontend `register-tool` message.
func (b *Bridge) RegisterTool(sessionID string, msg RegisterToolMessage) *BridgeError {
	return b.registry.RegisterTool(sessionID, ToolDefinition{
		Name:         msg.Tool.Name,
		Description:  msg.Tool.Description,
		InputSchema:  msg.Tool.InputSchema,
		OutputSchema: msg.Tool.OutputSchema,
	})
}

// ToolResponse handles the frontend `tool-response` message (spec §4.3/§4.4).
func (b *Bridge) ToolResponse(sessionID, requestID string, result interface{}) {
	b.correlator.Resolve(sessionID, requestID, result)
}

// Activity handles the frontend `activity` message.
func (b *Bridge) Activity(sessionID string) {
	b.registry.Touch(sessionID, time.Now())
}

// StartQuery handles the frontend `query` message (spec §4.7).
func (b *Bridge) StartQuery(session *Session, req QueryRequest, send sendFunc) {
	b.queries.Start(context.Background(), session, session.AuthToken, req, send)
}

// CancelQuery handles the frontend `query_cancel` message.
func (b *Bridge) CancelQuery(uuid, reason string) {
	b.queries.Cancel(uuid, reason)
}

// CallTool invokes C5 on behalf of the MCP handler (C6).
func (b *Bridge) CallTool(session *Session, toolName string, args map[string]interface{}, timeout time.Duration) (interface{}, error) {
	if timeout <= 0 {
		timeout = b.config.DefaultToolCallTimeout
	}
	send := func(payload []byte) error {
		return session.Socket.Send(string(payload))
	}
	return b.correlator.Call(context.Background(), session.SessionID, send, toolName, args, timeout)
}

// CloseSession implements spec §4.3 "close(sessionId)" end to end: aborts
// pending calls and queries, removes the session from the registry, and
// closes the socket with the given code/reason.
func (b *Bridge) CloseSession(sessionID string, code int, reason string) {
	b.registry.Close(sessionID, func(s *Session) {
		b.correlator.AbortSession(s.SessionID)
		b.queries.CancelSession(s)
		if s.Socket != nil {
			_ = s.Socket.Close(code, reason)
		}
	})
}

// --- MCP sessions (spec §3 "MCP Session") ---

func (b *Bridge) newMCPSession(authToken string) *MCPSession {
	session := newMCPSession(uuid.NewString(), authToken)
	b.mcpMu.Lock()
	b.mcpSessions[session.MCPSessionID] = session
	b.mcpMu.Unlock()
	b.sse.Track(session)
	return session
}

func (b *Bridge) getMCPSession(id string) (*MCPSession, bool) {
	b.mcpMu.RLock()
	defer b.mcpMu.RUnlock()
	s, ok := b.mcpSessions[id]
	return s, ok
}

func (b *Bridge) deleteMCPSession(id string) bool {
	b.mcpMu.Lock()
	session, ok := b.mcpSessions[id]
	if ok {
		delete(b.mcpSessions, id)
	}
	b.mcpMu.Unlock()
	if ok {
		b.sse.Detach(session)
		b.sse.Untrack(session)
	}
	return ok
}

// --- Lifecycle controller (C10) ---

// Close implements spec §4.9: cancels every scheduled item, closes every
// open frontend socket, drains C5, and is idempotent (P7). MCP sessions'
// SSE writers are detached, so no further event is written to them; the
// SSE HTTP streams themselves are not ended here and stay open in the
// adapter until their request ends.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.scheduler.CancelInterval(b.sweepID)
		for _, s := range b.registry.AllSessions() {
			b.CloseSession(s.SessionID, 1001, "Bridge shutting down")
		}
		b.mcpMu.Lock()
		for id, session := range b.mcpSessions {
			b.sse.Detach(session)
			delete(b.mcpSessions, id)
		}
		b.mcpMu.Unlock()
		b.correlator.AbortAll()
		b.scheduler.Dispose()
		logging.Info("Bridge", "shutdown complete")
	})
}

type unconfiguredAgent struct{}

func (unconfiguredAgent) RunQuery(ctx context.Context, queryID, prompt string, queryCtx map[string]interface{}, onProgress func(AgentProgress)) (*AgentResult, error) {
	return nil, NewError(CodeInternalError, "no agent configured for this bridge")
}
