package bridge

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/webtoolbridge/bridge/pkg/logging"
)

// QueryPipeline implements C8: it accepts frontend-originated agent
// queries, proxies them to AgentClient, streams lifecycle events back onto
// the originating WebSocket, and enforces maxInFlightQueriesPerToken
// (invariant 6 / P4).
type QueryPipeline struct {
	mu               sync.Mutex
	inFlightPerToken map[string]int
	queries          map[string]*Query // uuid -> query

	agent               AgentClient
	maxInFlightPerToken int
}

func NewQueryPipeline(agent AgentClient, maxInFlightPerToken int) *QueryPipeline {
	return &QueryPipeline{
		inFlightPerToken:    make(map[string]int),
		queries:             make(map[string]*Query),
		agent:               agent,
		maxInFlightPerToken: maxInFlightPerToken,
	}
}

// QueryRequest mirrors the frontend `query` WS message (spec §6).
type QueryRequest struct {
	UUID          string                 `json:"uuid"`
	Prompt        string                 `json:"prompt"`
	Context       map[string]interface{} `json:"context,omitempty"`
	ResponseTool  string                 `json:"responseTool,omitempty"`
	Tools         []string               `json:"tools,omitempty"`
	RestrictTools bool                   `json:"restrictTools,omitempty"`
	TimeoutMs     int                    `json:"timeout,omitempty"`
}

// Start implements spec §4.7. send delivers one WS frame (already
// marshaled) to the originating frontend socket.
func (p *QueryPipeline) Start(ctx context.Context, session *Session, authToken string, req QueryRequest, send sendFunc) {
	p.mu.Lock()
	if p.maxInFlightPerToken > 0 && p.inFlightPerToken[authToken] >= p.maxInFlightPerToken {
		p.mu.Unlock()
		p.emit(send, "query_failure", map[string]interface{}{"uuid": req.UUID, "error": "Query limit exceeded"})
		return
	}
	p.inFlightPerToken[authToken]++
	p.mu.Unlock()

	p.emit(send, "query_accepted", map[string]interface{}{"uuid": req.UUID})

	queryCtx, cancel := context.WithCancel(ctx)
	query := &Query{UUID: req.UUID, SessionID: session.SessionID, AuthToken: authToken, cancel: cancel, reasonCh: make(chan string, 1)}

	p.mu.Lock()
	p.queries[req.UUID] = query
	p.mu.Unlock()

	session.mu.Lock()
	session.inFlightQueries[req.UUID] = query
	session.mu.Unlock()

	go p.run(queryCtx, session, authToken, req, send, query)
}

func (p *QueryPipeline) run(ctx context.Context, session *Session, authToken string, req QueryRequest, send sendFunc, query *Query) {
	defer p.finish(session, authToken, req.UUID)

	result, err := p.agent.RunQuery(ctx, req.UUID, req.Prompt, req.Context, func(progress AgentProgress) {
		p.emit(send, "query_progress", map[string]interface{}{"uuid": req.UUID, "message": progress.Message})
	})

	if ctx.Err() != nil {
		fields := map[string]interface{}{"uuid": req.UUID}
		select {
		case reason := <-query.reasonCh:
			if reason != "" {
				fields["reason"] = reason
			}
		default:
		}
		p.emit(send, "query_cancel", fields)
		return
	}
	if err != nil {
		p.emit(send, "query_failure", map[string]interface{}{"uuid": req.UUID, "error": err.Error()})
		return
	}
	payload := map[string]interface{}{"uuid": req.UUID, "toolCalls": result.ToolCalls}
	if result.Message != "" {
		payload["message"] = result.Message
	}
	p.emit(send, "query_complete", payload)
}

func (p *QueryPipeline) finish(session *Session, authToken, uuid string) {
	p.mu.Lock()
	p.inFlightPerToken[authToken]--
	if p.inFlightPerToken[authToken] <= 0 {
		delete(p.inFlightPerToken, authToken)
	}
	delete(p.queries, uuid)
	p.mu.Unlock()

	session.mu.Lock()
	delete(session.inFlightQueries, uuid)
	session.mu.Unlock()
}

// Cancel implements the frontend-originated `query_cancel` message (spec
// §6). reason is forwarded on the query_cancel event.
func (p *QueryPipeline) Cancel(uuid, reason string) {
	p.mu.Lock()
	q, ok := p.queries[uuid]
	p.mu.Unlock()
	if !ok {
		return
	}
	if reason != "" {
		select {
		case q.reasonCh <- reason:
		default:
		}
	}
	if q.cancel != nil {
		q.cancel()
	}
}

// CancelSession cancels every in-flight query owned by session (spec §4.7
// step 5: "Queries never outlive their session").
func (p *QueryPipeline) CancelSession(session *Session) {
	session.mu.RLock()
	ids := make([]string, 0, len(session.inFlightQueries))
	for id := range session.inFlightQueries {
		ids = append(ids, id)
	}
	session.mu.RUnlock()

	for _, id := range ids {
		p.Cancel(id, "")
	}
}

func (p *QueryPipeline) emit(send sendFunc, eventType string, fields map[string]interface{}) {
	fields["type"] = eventType
	payload, err := json.Marshal(fields)
	if err != nil {
		logging.Error("QueryPipeline", err, "failed to encode %s event", eventType)
		return
	}
	if err := send(payload); err != nil {
		logging.Debug("QueryPipeline", "dropped %s event: socket unavailable", eventType)
	}
}
