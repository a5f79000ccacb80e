package stdhttp

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPRequest_ExposesMethodURLHeaderAndQuery(t *testing.T) {
	r := httptest.NewRequest("POST", "/query?foo=bar", strings.NewReader(`{"a":1}`))
	r.Header.Set("Authorization", "Bearer tok-a")

	req := newHTTPRequest(r)
	assert.Equal(t, "POST", req.Method())
	assert.Equal(t, "/query?foo=bar", req.URL())
	assert.Equal(t, "Bearer tok-a", req.Header("Authorization"))
	assert.Equal(t, "bar", req.Query("foo"))
}

func TestHTTPRequest_BodyIsReadOnceAndCached(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`hello`))
	req := newHTTPRequest(r)

	body1, err := req.Body()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body1))

	body2, err := req.Body()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body2))
}
