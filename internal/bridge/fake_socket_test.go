package bridge

import (
	"sync"

	"github.com/webtoolbridge/bridge/internal/transport"
)

// fakeSocket is a minimal in-memory transport.WebSocketConnection used by
// the bridge package's unit tests, modeled on the teacher's habit of
// hand-rolling small fakes instead of pulling in a mocking framework.
type fakeSocket struct {
	mu       sync.Mutex
	sent     []string
	state    transport.ReadyState
	closed   bool
	closeErr error
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{state: transport.StateOpen}
}

func (f *fakeSocket) Send(message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != transport.StateOpen {
		return errSocketClosed
	}
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeSocket) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.state = transport.StateClosed
	return f.closeErr
}

func (f *fakeSocket) ReadyState() transport.ReadyState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSocket) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeSocket) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var errSocketClosed = &fakeSocketError{"socket is closed"}

type fakeSocketError struct{ msg string }

func (e *fakeSocketError) Error() string { return e.msg }
