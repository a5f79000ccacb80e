package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webtoolbridge/bridge/internal/scheduler"
	"github.com/webtoolbridge/bridge/pkg/logging"
)

// Correlator implements C5: it routes one MCP tools/call to the owning
// frontend socket and suspends the caller until a matching tool-response
// arrives, the deadline fires, or the session closes.
//
// Ordering (spec §4.4): responses are matched only by requestId; reordering
// across concurrent calls on the same session is permitted and expected.
type Correlator struct {
	mu        sync.Mutex
	pending   map[string]map[string]*PendingToolCall // sessionID -> requestID -> call
	scheduler scheduler.Scheduler
}

// NewCorrelator constructs a Correlator backed by the given Scheduler (used
// for per-call timeout timers, per spec §4.1/§4.4).
func NewCorrelator(sched scheduler.Scheduler) *Correlator {
	return &Correlator{
		pending:   make(map[string]map[string]*PendingToolCall),
		scheduler: sched,
	}
}

// sendFunc abstracts "write toolCall onto the session's socket" so tests can
// stub it without a real transport.WebSocketConnection.
type sendFunc func(payload []byte) error

// Call implements spec §4.4 Call(): generate requestId, register a pending
// entry with a scheduled timeout, send tool-call on the socket, and suspend
// until resolution.
func (c *Correlator) Call(ctx context.Context, sessionID string, send sendFunc, toolName string, args map[string]interface{}, timeout time.Duration) (interface{}, error) {
	requestID := uuid.NewString()
	call := &PendingToolCall{
		RequestID: requestID,
		StartedAt: time.Now(),
		Deadline:  time.Now().Add(timeout),
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	if c.pending[sessionID] == nil {
		c.pending[sessionID] = make(map[string]*PendingToolCall)
	}
	c.pending[sessionID][requestID] = call
	c.mu.Unlock()

	timerID := c.scheduler.Schedule(func() {
		c.resolve(sessionID, requestID, nil, NewError(CodeToolCallTimeout, "tool call timed out"))
	}, timeout)
	call.timerID = timerID

	payload, err := json.Marshal(map[string]interface{}{
		"type":      "tool-call",
		"requestId": requestID,
		"toolName":  toolName,
		"toolInput": args,
	})
	if err != nil {
		c.cancelPending(sessionID, requestID)
		return nil, NewError(CodeInternalError, "failed to encode tool-call message")
	}

	if err := send(payload); err != nil {
		c.cancelPending(sessionID, requestID)
		return nil, NewError(CodeSessionClosed, "failed to deliver tool-call to frontend")
	}

	select {
	case <-call.done:
		return call.result, call.err
	case <-ctx.Done():
		c.resolve(sessionID, requestID, nil, ctx.Err())
		return call.result, call.err
	}
}

// Resolve implements the "tool-response" half of spec §4.3/§4.4: it matches
// by requestId only, never by arrival order.
func (c *Correlator) Resolve(sessionID, requestID string, result interface{}) {
	c.resolve(sessionID, requestID, result, nil)
}

func (c *Correlator) resolve(sessionID, requestID string, result interface{}, err error) {
	c.mu.Lock()
	bySession, ok := c.pending[sessionID]
	if !ok {
		c.mu.Unlock()
		return
	}
	call, ok := bySession[requestID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(bySession, requestID)
	if len(bySession) == 0 {
		delete(c.pending, sessionID)
	}
	c.mu.Unlock()

	if id, ok := call.timerID.(scheduler.ID); ok {
		c.scheduler.Cancel(id)
	}
	call.once.Do(func() {
		call.result = result
		call.err = err
		close(call.done)
	})
}

func (c *Correlator) cancelPending(sessionID, requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bySession, ok := c.pending[sessionID]; ok {
		if call, ok := bySession[requestID]; ok {
			if id, ok := call.timerID.(scheduler.ID); ok {
				c.scheduler.Cancel(id)
			}
			delete(bySession, requestID)
			if len(bySession) == 0 {
				delete(c.pending, sessionID)
			}
		}
	}
}

// AbortSession implements spec §4.3 "close(sessionId): aborts all of its
// PendingToolCalls with a local SessionClosed error" (invariant 4: no entry
// survives its session's destruction).
func (c *Correlator) AbortSession(sessionID string) {
	c.mu.Lock()
	bySession, ok := c.pending[sessionID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, sessionID)
	c.mu.Unlock()

	for requestID, call := range bySession {
		if id, ok := call.timerID.(scheduler.ID); ok {
			c.scheduler.Cancel(id)
		}
		call.once.Do(func() {
			call.err = NewError(CodeSessionClosed, "session closed while tool call was pending")
			close(call.done)
		})
		logging.Debug("Correlator", "aborted pending call session=%s request=%s",
			logging.TruncateSessionID(sessionID), requestID)
	}
}

// AbortAll implements C10's shutdown drain: reject every pending call across
// every session with BridgeShutdown (spec §4.9).
func (c *Correlator) AbortAll() {
	c.mu.Lock()
	all := c.pending
	c.pending = make(map[string]map[string]*PendingToolCall)
	c.mu.Unlock()

	for _, bySession := range all {
		for _, call := range bySession {
			if id, ok := call.timerID.(scheduler.ID); ok {
				c.scheduler.Cancel(id)
			}
			call.once.Do(func() {
				call.err = NewError(CodeBridgeShutdown, "bridge is shutting down")
				close(call.done)
			})
		}
	}
}
