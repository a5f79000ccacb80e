package bridge

import "context"

// AgentProgress is one incremental update the agent HTTP endpoint reports
// back while executing a query (spec §4.7 step 3).
type AgentProgress struct {
	Message string
}

// AgentResult is the terminal outcome of a PUT /query/{uuid} call.
type AgentResult struct {
	Message   string
	ToolCalls []map[string]interface{}
}

// AgentClient is the out-of-scope collaborator spec §1 calls "the agent
// server (third-party HTTP endpoint) that executes LLM queries". The bridge
// only needs to proxy a request and consume a stream of progress events
// followed by one terminal result or error; how that HTTP call is actually
// shaped is the adapter's concern.
type AgentClient interface {
	// RunQuery proxies a synthesized request to the agent. onProgress is
	// invoked for each progress item the agent streams back. RunQuery
	// returns when the agent completes or ctx is canceled (query_cancel or
	// session close, per spec §4.7 step 4).
	RunQuery(ctx context.Context, queryID string, prompt string, queryCtx map[string]interface{}, onProgress func(AgentProgress)) (*AgentResult, error)
}
