// Package stdhttp is the one concrete transport.* adapter shipped with this
// module: net/http for the MCP HTTP/SSE surface, gorilla/websocket for the
// frontend socket. It is intentionally thin — the bridge package (C3-C10)
// holds all protocol logic; this package only moves bytes.
package stdhttp

import (
	"io"
	"net/http"
)

// httpRequest adapts *http.Request to transport.HttpRequest.
type httpRequest struct {
	r    *http.Request
	body []byte
	err  error
	read bool
}

func newHTTPRequest(r *http.Request) *httpRequest {
	return &httpRequest{r: r}
}

func (h *httpRequest) Method() string { return h.r.Method }
func (h *httpRequest) URL() string    { return h.r.URL.String() }

func (h *httpRequest) Header(name string) string { return h.r.Header.Get(name) }

func (h *httpRequest) Query(name string) string { return h.r.URL.Query().Get(name) }

func (h *httpRequest) Body() ([]byte, error) {
	if !h.read {
		h.body, h.err = io.ReadAll(h.r.Body)
		h.read = true
	}
	return h.body, h.err
}
