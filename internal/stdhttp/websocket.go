package stdhttp

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/webtoolbridge/bridge/internal/transport"
)

// wsConnection adapts a gorilla/websocket connection to
// transport.WebSocketConnection. gorilla's Conn forbids concurrent writers,
// so every Send/Close is serialized by mu.
type wsConnection struct {
	mu    sync.Mutex
	conn  *websocket.Conn
	state transport.ReadyState
}

func newWSConnection(conn *websocket.Conn) *wsConnection {
	return &wsConnection{conn: conn, state: transport.StateOpen}
}

func (c *wsConnection) Send(message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != transport.StateOpen {
		return websocket.ErrCloseSent
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(message))
}

func (c *wsConnection) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == transport.StateClosed {
		return nil
	}
	c.state = transport.StateClosing
	deadline := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, deadline, timeNow().Add(writeWait))
	err := c.conn.Close()
	c.state = transport.StateClosed
	return err
}

func (c *wsConnection) ReadyState() transport.ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *wsConnection) markClosed() {
	c.mu.Lock()
	c.state = transport.StateClosed
	c.mu.Unlock()
}
