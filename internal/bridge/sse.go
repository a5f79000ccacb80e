package bridge

import (
	"sync"

	"github.com/webtoolbridge/bridge/internal/transport"
	"github.com/webtoolbridge/bridge/pkg/logging"
)

// SSENotifier implements C7: at most one SSEWriter per MCP session, fanned
// out by authToken so a `tools/list_changed` mutation reaches every MCP
// session sharing that token and no other (P6, invariant 5).
type SSENotifier struct {
	mu       sync.Mutex
	byToken  map[string]map[string]*MCPSession // authToken -> mcpSessionID -> session
}

func NewSSENotifier() *SSENotifier {
	return &SSENotifier{byToken: make(map[string]map[string]*MCPSession)}
}

// Track registers an MCP session so notifications addressed to its token
// reach it once an SSE writer is attached.
func (n *SSENotifier) Track(session *MCPSession) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.byToken[session.AuthToken] == nil {
		n.byToken[session.AuthToken] = make(map[string]*MCPSession)
	}
	n.byToken[session.AuthToken][session.MCPSessionID] = session
}

// Untrack removes an MCP session (on DELETE or shutdown).
func (n *SSENotifier) Untrack(session *MCPSession) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if byID, ok := n.byToken[session.AuthToken]; ok {
		delete(byID, session.MCPSessionID)
		if len(byID) == 0 {
			delete(n.byToken, session.AuthToken)
		}
	}
}

// Attach binds a writer to session; onClose is called by the adapter when
// the underlying stream ends, at which point the writer is detached (spec
// §4.6).
func (n *SSENotifier) Attach(session *MCPSession, writer transport.SSEWriter) {
	session.attachSSE(writer, func() {
		session.detachSSE()
	})
}

// Detach releases session's SSE writer (DELETE handler, or stream close).
func (n *SSENotifier) Detach(session *MCPSession) {
	session.detachSSE()
}

// NotifyListChanged implements spec §4.6: write the
// notifications/tools/list_changed JSON-RPC notification to every MCP
// session sharing mutatingToken, and no others (invariant 5 / P6).
func (n *SSENotifier) NotifyListChanged(mutatingToken string) {
	n.mu.Lock()
	sessions := make([]*MCPSession, 0, len(n.byToken[mutatingToken]))
	for _, s := range n.byToken[mutatingToken] {
		sessions = append(sessions, s)
	}
	n.mu.Unlock()

	const payload = `{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`
	for _, s := range sessions {
		w := s.writer()
		if w == nil || w.Closed() {
			continue
		}
		if err := w.WriteEvent("", payload); err != nil {
			logging.Debug("SSENotifier", "dropped notification for mcp session=%s: %v",
				logging.TruncateSessionID(s.MCPSessionID), err)
		}
	}
}

// Keepalive writes an SSE comment to every tracked stream; the adapter is
// expected to call this on its own ~30s ticker (spec §4.6).
func (n *SSENotifier) Keepalive() {
	n.mu.Lock()
	var all []*MCPSession
	for _, byID := range n.byToken {
		for _, s := range byID {
			all = append(all, s)
		}
	}
	n.mu.Unlock()

	for _, s := range all {
		w := s.writer()
		if w == nil || w.Closed() {
			continue
		}
		_ = w.WriteEvent("comment", "keepalive")
	}
}
