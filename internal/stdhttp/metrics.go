package stdhttp

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/webtoolbridge/bridge/internal/bridge"
)

// metrics publishes the bridge's live fleet size on a short poll, since the
// registry exposes no change-subscription API of its own (spec §9 keeps the
// bridge I/O-free; Prometheus collection is adapter-side by design).
type metrics struct {
	bridge         *bridge.Bridge
	activeSessions prometheus.Gauge
}

func newMetrics(b *bridge.Bridge) *metrics {
	m := &metrics{
		bridge: b,
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "webtoolbridge",
			Name:      "active_frontend_sessions",
			Help:      "Number of live frontend WebSocket sessions across all tokens.",
		}),
	}
	prometheus.MustRegister(m.activeSessions)
	return m
}

func (m *metrics) startPolling(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.activeSessions.Set(float64(len(m.bridge.Registry().AllSessions())))
			}
		}
	}()
}
