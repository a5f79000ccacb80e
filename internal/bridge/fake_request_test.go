package bridge

// fakeHTTPRequest is a minimal in-memory transport.HttpRequest used by the
// MCP handler tests, so the bridge package never needs net/http to test its
// protocol logic.
type fakeHTTPRequest struct {
	method  string
	url     string
	headers map[string]string
	queries map[string]string
	body    []byte
}

func (r *fakeHTTPRequest) Method() string { return r.method }
func (r *fakeHTTPRequest) URL() string    { return r.url }
func (r *fakeHTTPRequest) Header(name string) string {
	if r.headers == nil {
		return ""
	}
	return r.headers[name]
}
func (r *fakeHTTPRequest) Query(name string) string {
	if r.queries == nil {
		return ""
	}
	return r.queries[name]
}
func (r *fakeHTTPRequest) Body() ([]byte, error) { return r.body, nil }

func postJSON(body []byte, headers map[string]string) *fakeHTTPRequest {
	return &fakeHTTPRequest{method: "POST", body: body, headers: headers}
}
