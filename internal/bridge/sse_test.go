package bridge

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSEWriter struct {
	mu     sync.Mutex
	events []string
	closed bool
}

func (w *fakeSSEWriter) WriteEvent(event, data string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, event+":"+data)
	return nil
}

func (w *fakeSSEWriter) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *fakeSSEWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

func TestSSENotifier_NotifyReachesOnlyMatchingToken(t *testing.T) {
	n := NewSSENotifier()

	sessionA := newMCPSession("mcp-a", "tok-a")
	sessionB := newMCPSession("mcp-b", "tok-b")
	n.Track(sessionA)
	n.Track(sessionB)

	writerA := &fakeSSEWriter{}
	writerB := &fakeSSEWriter{}
	n.Attach(sessionA, writerA)
	n.Attach(sessionB, writerB)

	n.NotifyListChanged("tok-a")

	assert.Equal(t, 1, writerA.count())
	assert.Equal(t, 0, writerB.count())
}

func TestSSENotifier_DetachStopsFurtherNotifications(t *testing.T) {
	n := NewSSENotifier()
	session := newMCPSession("mcp-a", "tok-a")
	n.Track(session)

	writer := &fakeSSEWriter{}
	n.Attach(session, writer)
	n.Detach(session)

	n.NotifyListChanged("tok-a")
	assert.Equal(t, 0, writer.count())
}

func TestSSENotifier_UntrackRemovesFromFanOut(t *testing.T) {
	n := NewSSENotifier()
	session := newMCPSession("mcp-a", "tok-a")
	n.Track(session)
	writer := &fakeSSEWriter{}
	n.Attach(session, writer)

	n.Untrack(session)
	n.NotifyListChanged("tok-a")

	assert.Equal(t, 0, writer.count())
}

func TestSSENotifier_KeepaliveWritesCommentToEveryTrackedStream(t *testing.T) {
	n := NewSSENotifier()
	s1 := newMCPSession("mcp-a", "tok-a")
	s2 := newMCPSession("mcp-b", "tok-b")
	n.Track(s1)
	n.Track(s2)
	w1, w2 := &fakeSSEWriter{}, &fakeSSEWriter{}
	n.Attach(s1, w1)
	n.Attach(s2, w2)

	n.Keepalive()

	require.Equal(t, 1, w1.count())
	require.Equal(t, 1, w2.count())
	assert.Contains(t, w1.events[0], "comment:")
}
