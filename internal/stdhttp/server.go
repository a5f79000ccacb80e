package stdhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/webtoolbridge/bridge/internal/bridge"
	"github.com/webtoolbridge/bridge/pkg/logging"
)

const writeWait = 10 * time.Second

func timeNow() time.Time { return time.Now() }

// Server binds a *bridge.Bridge to net/http + gorilla/websocket. It owns no
// protocol logic of its own: every request is translated into a
// transport.HttpRequest/WebSocketConnection and handed to the bridge.
type Server struct {
	bridge   *bridge.Bridge
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	http     *http.Server
	metrics  *metrics
}

// NewServer wires routes for the frontend WebSocket ("/ws"), the MCP surface
// ("/"), liveness ("/healthz") and Prometheus metrics ("/metrics").
func NewServer(addr string, b *bridge.Bridge) *Server {
	s := &Server{
		bridge: b,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux:     http.NewServeMux(),
		metrics: newMetrics(b),
	}

	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/", s.handleMCP)

	s.http = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s
}

// Run blocks serving until ctx is canceled, then shuts down gracefully. The
// listener and the shutdown watcher are fanned in through a single
// errgroup.Group so either side's error surfaces from one Wait.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("stdhttp", "listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		s.metrics.startPolling(gctx)
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.bridge.Close()
		return s.http.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		s.runSSEKeepalive(gctx)
		return nil
	})

	return g.Wait()
}

// runSSEKeepalive writes a comment frame to every open MCP SSE stream on a
// fixed tick, so idle connections survive proxies/load balancers that time
// out a silent stream (spec §4.6).
func (s *Server) runSSEKeepalive(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.bridge.SSEKeepalive()
		}
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	req := newHTTPRequest(r)
	httpResp, sseResp := s.bridge.HandleHTTP(req)

	if httpResp != nil {
		for k, v := range httpResp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(httpResp.Status)
		if len(httpResp.Body) > 0 {
			_, _ = w.Write(httpResp.Body)
		}
		return
	}

	if sseResp == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	for k, v := range sseResp.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(sseResp.Status)

	writer, err := newSSEWriter(w)
	if err != nil {
		return
	}

	var onClose func()
	registered := false
	sseResp.Setup(writer, func(cb func()) {
		onClose = cb
		registered = true
	})

	// A Setup that never registers onClose (the missing/invalid
	// Mcp-Session-Id error path) means "write one event and end the
	// stream"; otherwise the stream stays open until the client disconnects.
	if registered {
		<-r.Context().Done()
	}
	writer.markClosed()
	if onClose != nil {
		onClose()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug("stdhttp", "websocket upgrade failed: %v", err)
		return
	}
	socket := newWSConnection(conn)

	s.bridge.HandleWebSocketConnect(sessionID, socket)
	if sessionID == "" {
		_ = conn.Close()
		return
	}

	defer func() {
		socket.markClosed()
		_ = conn.Close()
		s.bridge.HandleWebSocketClose(sessionID)
	}()

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.bridge.HandleWebSocketMessage(sessionID, socket, payload)
	}
}
