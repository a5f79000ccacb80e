package stdhttp

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webtoolbridge/bridge/internal/transport"
)

// dialWSConnection spins up a one-shot httptest server that upgrades the
// single incoming connection and hands the server-side *wsConnection back
// to the caller, alongside a client-side *gorilla/websocket.Conn for
// driving reads/writes from the test.
func dialWSConnection(t *testing.T) (*wsConnection, *gorillaws.Conn, func()) {
	t.Helper()
	upgrader := gorillaws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	serverConnCh := make(chan *wsConnection, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConnCh <- newWSConnection(conn)
	}))

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	clientConn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	var serverConn *wsConnection
	select {
	case serverConn = <-serverConnCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for server-side upgrade")
	}

	cleanup := func() {
		_ = clientConn.Close()
		server.Close()
	}
	return serverConn, clientConn, cleanup
}

func TestWSConnection_SendDeliversTextMessageToPeer(t *testing.T) {
	serverConn, clientConn, cleanup := dialWSConnection(t)
	defer cleanup()

	require.NoError(t, serverConn.Send(`{"type":"authenticated"}`))

	_ = clientConn.SetReadDeadline(time.Now().Add(time.Second))
	msgType, payload, err := clientConn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, gorillaws.TextMessage, msgType)
	assert.Equal(t, `{"type":"authenticated"}`, string(payload))
}

func TestWSConnection_ReadyStateStartsOpen(t *testing.T) {
	serverConn, _, cleanup := dialWSConnection(t)
	defer cleanup()

	assert.Equal(t, transport.StateOpen, serverConn.ReadyState())
}

func TestWSConnection_CloseTransitionsToClosedAndRejectsFurtherSends(t *testing.T) {
	serverConn, _, cleanup := dialWSConnection(t)
	defer cleanup()

	require.NoError(t, serverConn.Close(1008, "session name in use"))
	assert.Equal(t, transport.StateClosed, serverConn.ReadyState())
	assert.Error(t, serverConn.Send("too late"))
}

func TestWSConnection_CloseIsIdempotent(t *testing.T) {
	serverConn, _, cleanup := dialWSConnection(t)
	defer cleanup()

	require.NoError(t, serverConn.Close(1008, "bye"))
	require.NoError(t, serverConn.Close(1008, "bye again"))
}

func TestWSConnection_MarkClosedReflectsInReadyState(t *testing.T) {
	serverConn, _, cleanup := dialWSConnection(t)
	defer cleanup()

	serverConn.markClosed()
	assert.Equal(t, transport.StateClosed, serverConn.ReadyState())
}
