package stdhttp

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// sseWriter adapts an http.ResponseWriter mid-request into transport.SSEWriter.
// SSE writers are single-writer per spec §5, so every WriteEvent call is
// serialized by mu.
type sseWriter struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	flush  http.Flusher
	closed bool
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	return &sseWriter{w: w, flush: flusher}, nil
}

func (s *sseWriter) WriteEvent(event string, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sse stream closed")
	}

	var b strings.Builder
	if event == "comment" {
		b.WriteString(": ")
		b.WriteString(data)
		b.WriteString("\n\n")
	} else {
		if event != "" {
			b.WriteString("event: ")
			b.WriteString(event)
			b.WriteString("\n")
		}
		for _, line := range strings.Split(data, "\n") {
			b.WriteString("data: ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return err
	}
	s.flush.Flush()
	return nil
}

func (s *sseWriter) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *sseWriter) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
