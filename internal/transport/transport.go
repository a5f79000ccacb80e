// Package transport defines the runtime-agnostic I/O seam (spec C2). The
// bridge core never performs I/O directly: it is handed an HttpRequest,
// consults/returns an HttpResponse or SSEResponse, and is handed
// WebSocketConnection callbacks by whatever adapter embeds a concrete
// runtime (net/http + gorilla/websocket, an edge worker, …). This package
// holds only the contracts; internal/stdhttp provides one concrete adapter.
package transport

// ReadyState normalizes the ws numeric ready-state constants (0/1/2/3) to
// strings per spec §9's open-question resolution.
type ReadyState string

const (
	StateConnecting ReadyState = "CONNECTING"
	StateOpen       ReadyState = "OPEN"
	StateClosing    ReadyState = "CLOSING"
	StateClosed     ReadyState = "CLOSED"
)

// HttpRequest is the runtime-agnostic view of an inbound HTTP request.
type HttpRequest interface {
	Method() string
	URL() string
	Header(name string) string
	Query(name string) string
	Body() ([]byte, error)
}

// HttpResponse is what a core handler returns for the adapter to write out.
type HttpResponse struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// NewJSONResponse builds an HttpResponse with a JSON content-type header and
// the given status/body. Callers pass pre-marshaled body bytes; the core
// never writes to the wire itself.
func NewJSONResponse(status int, body []byte) *HttpResponse {
	return &HttpResponse{
		Status:  status,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	}
}

// SSEWriter emits one Server-Sent Events `data:` frame per call. It is
// single-writer: the adapter must serialize calls (spec §5 "SSE writers are
// single-writer").
type SSEWriter interface {
	// WriteEvent writes one SSE event. event may be "" for an unnamed
	// "message" event, or "comment" to emit a `: ...` keepalive comment.
	WriteEvent(event string, data string) error
	// Closed reports whether the underlying stream has already ended.
	Closed() bool
}

// SSEResponse is returned by the core for a GET request that should be
// upgraded to an SSE stream. The adapter calls Setup once the stream is
// live, handing the core a writer and an onClose callback.
type SSEResponse struct {
	Status  int
	Headers map[string]string
	Setup   func(writer SSEWriter, onClose func(cb func()))
}

// WebSocketConnection is the runtime-agnostic handle to one frontend socket.
type WebSocketConnection interface {
	Send(message string) error
	Close(code int, reason string) error
	ReadyState() ReadyState
}
