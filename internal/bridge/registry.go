package bridge

import (
	"sync"
	"time"

	"github.com/webtoolbridge/bridge/internal/transport"
	"github.com/webtoolbridge/bridge/pkg/logging"
)

// MaxSessionIDLength bounds the session id the frontend may choose, guarding
// against memory-exhaustion via pathological ids (mirrors the teacher's
// DoS-hardening constant).
const MaxSessionIDLength = 256

// SessionLimitPolicy selects how Registry.Authenticate behaves once a
// token's session quota is reached (spec §4.3 step 4, config
// "onSessionLimitExceeded").
type SessionLimitPolicy string

const (
	PolicyReject      SessionLimitPolicy = "reject"
	PolicyCloseOldest SessionLimitPolicy = "close_oldest"
)

// Registry owns C3 (the session map) and C4 (the token/name secondary
// indexes). One RWMutex serializes all three maps together, per spec §5
// ("one reader-writer lock per index, or an actor that owns them") — here
// a single lock covers all of Registry's indexes since they always mutate
// together (P1/P2 must hold atomically across them).
type Registry struct {
	mu sync.RWMutex

	sessions map[string]*Session            // sessionId -> session
	byToken  map[string]map[string]*Session // authToken -> sessionId -> session
	byName   map[string]map[string]*Session // authToken -> sessionName -> session

	maxSessionsPerToken int // 0 = unlimited
	limitPolicy         SessionLimitPolicy

	onListChanged func(authToken string) // notifies C7
}

// NewRegistry constructs an empty Registry. onListChanged is invoked (async
// from the caller's perspective is not required; it must not block for long)
// whenever a mutation should trigger `tools/list_changed` (spec §4.3).
func NewRegistry(maxSessionsPerToken int, policy SessionLimitPolicy, onListChanged func(authToken string)) *Registry {
	if policy == "" {
		policy = PolicyReject
	}
	return &Registry{
		sessions:            make(map[string]*Session),
		byToken:             make(map[string]map[string]*Session),
		byName:              make(map[string]map[string]*Session),
		maxSessionsPerToken: maxSessionsPerToken,
		limitPolicy:         policy,
		onListChanged:       onListChanged,
	}
}

// AuthenticateResult reports the outcome of Authenticate.
type AuthenticateResult struct {
	Session *Session
	Err     *BridgeError
	// Evicted lists sessions removed as a side effect (close_oldest policy);
	// callers must close their sockets with 1008 after admission.
	Evicted []*Session
}

// Authenticate implements spec §4.3's ordered rule list for admitting a new
// frontend session.
func (r *Registry) Authenticate(sessionID, authToken, sessionName, origin, pageTitle, userAgent string, socket transport.WebSocketConnection, now time.Time) AuthenticateResult {
	if err := validateSessionID(sessionID); err != nil {
		return AuthenticateResult{Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Rule 1: sessionId must be globally unique among live sessions.
	if _, exists := r.sessions[sessionID]; exists {
		return AuthenticateResult{Err: NewError(CodeSessionIdInUse, "session id already in use")}
	}

	// Rule 2: authToken is required.
	if authToken == "" {
		return AuthenticateResult{Err: NewError(CodeMissingAuthentication, "authToken is required")}
	}

	// Rule 3: sessionName must be unique within the token.
	if sessionName != "" {
		if names, ok := r.byName[authToken]; ok {
			if _, taken := names[sessionName]; taken {
				return AuthenticateResult{Err: NewError(CodeSessionNameInUse, "session name already in use")}
			}
		}
	}

	// Rule 4: enforce the per-token session quota.
	var evicted []*Session
	if r.maxSessionsPerToken > 0 {
		existing := r.byToken[authToken]
		if len(existing) >= r.maxSessionsPerToken {
			if r.limitPolicy == PolicyCloseOldest {
				oldest := r.oldestSessionLocked(existing)
				if oldest != nil {
					r.removeLocked(oldest.SessionID)
					evicted = append(evicted, oldest)
				}
			} else {
				return AuthenticateResult{Err: NewError(CodeSessionLimitExceeded, "session limit exceeded")}
			}
		}
	}

	// Rule 5: admit.
	session := newSession(sessionID, authToken, sessionName, origin, pageTitle, userAgent, socket, now)
	r.sessions[sessionID] = session
	if r.byToken[authToken] == nil {
		r.byToken[authToken] = make(map[string]*Session)
	}
	r.byToken[authToken][sessionID] = session
	if sessionName != "" {
		if r.byName[authToken] == nil {
			r.byName[authToken] = make(map[string]*Session)
		}
		r.byName[authToken][sessionName] = session
	}

	logging.Info("Registry", "session authenticated token=%s session=%s name=%q",
		logging.TruncateSessionID(authToken), logging.TruncateSessionID(sessionID), sessionName)
	r.notifyLocked(authToken)

	return AuthenticateResult{Session: session, Evicted: evicted}
}

func (r *Registry) oldestSessionLocked(sessions map[string]*Session) *Session {
	var oldest *Session
	for _, s := range sessions {
		connectedAt, _ := s.snapshot()
		if oldest == nil {
			oldest = s
			continue
		}
		oldestConnectedAt, _ := oldest.snapshot()
		if connectedAt.Before(oldestConnectedAt) {
			oldest = s
		}
	}
	return oldest
}

func validateSessionID(id string) *BridgeError {
	if id == "" {
		return NewError(CodeInvalidAuthentication, "session id cannot be empty")
	}
	if len(id) > MaxSessionIDLength {
		return NewError(CodeInvalidAuthentication, "session id exceeds maximum length")
	}
	return nil
}

// RegisterTool implements spec §4.3 "register-tool": it rejects a
// conflicting schema under the same token (P3) and otherwise records the
// tool and notifies SSE subscribers.
func (r *Registry) RegisterTool(sessionID string, tool ToolDefinition) *BridgeError {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return NewError(CodeSessionNotFound, "unknown session")
	}
	authToken := session.AuthToken

	for otherID, other := range r.byToken[authToken] {
		if otherID == sessionID {
			continue
		}
		if existing, has := other.Tool(tool.Name); has {
			if !schemaEqual(existing.InputSchema, tool.InputSchema) || !schemaEqual(existing.OutputSchema, tool.OutputSchema) {
				r.mu.Unlock()
				return NewError(CodeToolSchemaConflict, "tool schema conflicts with an existing registration under this token")
			}
		}
	}
	r.mu.Unlock()

	session.setTool(tool)
	r.mu.Lock()
	r.notifyLocked(authToken)
	r.mu.Unlock()
	return nil
}

// RegisterResource and RegisterPrompt mirror RegisterTool for the optional
// resources/prompts surface (spec §9 "apply the tools pattern to all
// three").
func (r *Registry) RegisterResource(sessionID string, res ResourceDefinition) *BridgeError {
	r.mu.RLock()
	session, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return NewError(CodeSessionNotFound, "unknown session")
	}
	session.mu.Lock()
	session.resources[res.URI] = res
	session.mu.Unlock()

	r.mu.Lock()
	r.notifyLocked(session.AuthToken)
	r.mu.Unlock()
	return nil
}

func (r *Registry) RegisterPrompt(sessionID string, p PromptDefinition) *BridgeError {
	r.mu.RLock()
	session, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return NewError(CodeSessionNotFound, "unknown session")
	}
	session.mu.Lock()
	session.prompts[p.Name] = p
	session.mu.Unlock()

	r.mu.Lock()
	r.notifyLocked(session.AuthToken)
	r.mu.Unlock()
	return nil
}

// Touch updates a session's last-activity timestamp (spec §4.3
// "activity").
func (r *Registry) Touch(sessionID string, now time.Time) {
	r.mu.RLock()
	session, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		session.Touch(now)
	}
}

// Get returns the session with the given id.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// SessionsForToken returns every live session under authToken.
func (r *Registry) SessionsForToken(authToken string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := r.byToken[authToken]
	out := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s)
	}
	return out
}

// Close implements spec §4.3 "close(sessionId)": removes the session from
// both indexes and aborts its pending calls/queries. The caller (the
// transport adapter, or the sweep in C10) is responsible for actually
// closing the socket.
func (r *Registry) Close(sessionID string, abort func(*Session)) {
	r.mu.Lock()
	session := r.removeLocked(sessionID)
	if session != nil {
		r.notifyLocked(session.AuthToken)
	}
	r.mu.Unlock()

	if session != nil && abort != nil {
		abort(session)
	}
}

func (r *Registry) removeLocked(sessionID string) *Session {
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(r.sessions, sessionID)
	if byToken, ok := r.byToken[session.AuthToken]; ok {
		delete(byToken, sessionID)
		if len(byToken) == 0 {
			delete(r.byToken, session.AuthToken)
		}
	}
	if session.SessionName != "" {
		if byName, ok := r.byName[session.AuthToken]; ok {
			delete(byName, session.SessionName)
			if len(byName) == 0 {
				delete(r.byName, session.AuthToken)
			}
		}
	}
	logging.Debug("Registry", "session closed token=%s session=%s",
		logging.TruncateSessionID(session.AuthToken), logging.TruncateSessionID(sessionID))
	return session
}

func (r *Registry) notifyLocked(authToken string) {
	if r.onListChanged != nil {
		r.onListChanged(authToken)
	}
}

// AllSessions returns a snapshot of every live session, used by the session
// sweep (C10) and the list_sessions built-in tool (C9).
func (r *Registry) AllSessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// schemaEqual implements spec §9 "Structurally equal" (deep equality after
// key-sorting; absent schemas are a distinct value from an empty schema).
func schemaEqual(a, b map[string]interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return deepEqualJSON(a, b)
}
