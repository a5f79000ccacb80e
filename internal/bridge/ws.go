package bridge

import (
	"encoding/json"

	"github.com/webtoolbridge/bridge/internal/transport"
	"github.com/webtoolbridge/bridge/pkg/logging"
)

// wsEnvelope extracts only the `type` discriminator; the rest is parsed per
// message type (spec §6).
type wsEnvelope struct {
	Type string `json:"type"`
}

// HandleWebSocketConnect implements the adapter contract's
// onWebSocketConnect (spec §4.2): the only thing the core checks at connect
// time is that a session id was supplied on the URL (spec §6 "Missing
// session parameter"). The Session itself is not created until
// `authenticate` succeeds.
func (b *Bridge) HandleWebSocketConnect(sessionID string, socket transport.WebSocketConnection) {
	if sessionID == "" {
		_ = socket.Close(1008, "Missing session parameter")
	}
}

// HandleWebSocketMessage implements onWebSocketMessage: it decodes the
// `type` discriminator and dispatches to the matching bridge operation,
// translating each outcome into the bridge-to-frontend frames spec §6
// defines.
func (b *Bridge) HandleWebSocketMessage(sessionID string, socket transport.WebSocketConnection, raw []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logging.Debug("Bridge", "dropped malformed WS message from session=%s", logging.TruncateSessionID(sessionID))
		return
	}

	switch env.Type {
	case "authenticate":
		b.handleAuthenticateMessage(sessionID, socket, raw)
	case "register-tool":
		b.handleRegisterToolMessage(sessionID, socket, raw)
	case "activity":
		b.Activity(sessionID)
	case "tool-response":
		b.handleToolResponseMessage(sessionID, raw)
	case "query":
		b.handleQueryMessage(sessionID, socket, raw)
	case "query_cancel":
		b.handleQueryCancelMessage(raw)
	default:
		logging.Debug("Bridge", "unknown WS message type %q from session=%s", env.Type, logging.TruncateSessionID(sessionID))
	}
}

// HandleWebSocketClose implements onWebSocketClose: it drives spec §4.3
// close(sessionId) end to end (invariant 4: no pending call or query
// outlives its session).
func (b *Bridge) HandleWebSocketClose(sessionID string) {
	b.registry.Close(sessionID, func(s *Session) {
		b.correlator.AbortSession(s.SessionID)
		b.queries.CancelSession(s)
	})
}

func sendJSON(socket transport.WebSocketConnection, fields map[string]interface{}) {
	payload, err := json.Marshal(fields)
	if err != nil {
		logging.Error("Bridge", err, "failed to encode WS frame type=%v", fields["type"])
		return
	}
	if err := socket.Send(string(payload)); err != nil {
		logging.Debug("Bridge", "failed to deliver WS frame: %v", err)
	}
}

// closeReasonForCode maps the two admission failures spec §4.3 mandates an
// explicit socket close for to their wire reason strings.
func closeReasonForCode(code ErrorCode) (reason string, shouldClose bool) {
	switch code {
	case CodeSessionNameInUse:
		return "Session name already in use", true
	case CodeSessionLimitExceeded:
		return "Session limit exceeded", true
	default:
		return "", false
	}
}

func (b *Bridge) handleAuthenticateMessage(sessionID string, socket transport.WebSocketConnection, raw []byte) {
	var msg AuthenticateMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		sendJSON(socket, map[string]interface{}{"type": "authentication-failed", "code": string(CodeInvalidAuthentication), "error": "malformed authenticate message"})
		return
	}

	result := b.Authenticate(sessionID, msg, socket)
	if result.Err != nil {
		sendJSON(socket, map[string]interface{}{"type": "authentication-failed", "code": string(result.Err.Code), "error": result.Err.Message})
		if reason, shouldClose := closeReasonForCode(result.Err.Code); shouldClose {
			_ = socket.Close(1008, reason)
		}
		return
	}

	for _, evicted := range result.Evicted {
		sendJSON(evicted.Socket, map[string]interface{}{"type": "authentication-failed", "code": string(CodeSessionLimitExceeded), "error": "Session limit exceeded"})
		_ = evicted.Socket.Close(1008, "Session limit exceeded")
	}

	sendJSON(socket, map[string]interface{}{"type": "authenticated", "success": true})
}

func (b *Bridge) handleRegisterToolMessage(sessionID string, socket transport.WebSocketConnection, raw []byte) {
	var msg RegisterToolMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if err := b.RegisterTool(sessionID, msg); err != nil {
		sendJSON(socket, map[string]interface{}{
			"type":     "registration-error",
			"toolName": msg.Tool.Name,
			"code":     string(err.Code),
			"message":  err.Message,
		})
	}
}

type toolResponseMessage struct {
	RequestID string      `json:"requestId"`
	Result    interface{} `json:"result"`
}

func (b *Bridge) handleToolResponseMessage(sessionID string, raw []byte) {
	var msg toolResponseMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	b.ToolResponse(sessionID, msg.RequestID, msg.Result)
}

func (b *Bridge) handleQueryMessage(sessionID string, socket transport.WebSocketConnection, raw []byte) {
	var req QueryRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}
	session, ok := b.registry.Get(sessionID)
	if !ok {
		return
	}
	send := func(payload []byte) error {
		return socket.Send(string(payload))
	}
	b.StartQuery(session, req, send)
}

type queryCancelMessage struct {
	UUID   string `json:"uuid"`
	Reason string `json:"reason"`
}

func (b *Bridge) handleQueryCancelMessage(raw []byte) {
	var msg queryCancelMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	b.CancelQuery(msg.UUID, msg.Reason)
}
