// Package metrics exports relay and hub counters to Prometheus.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/wsrelay/internal/outbound"
	"github.com/1ureka/wsrelay/internal/protocol"
	"github.com/1ureka/wsrelay/internal/relay"
)

var _ relay.Observer = (*Metrics)(nil)

type Metrics struct {
	framesForwarded *prometheus.CounterVec
	framesDropped   *prometheus.CounterVec
	tunnelRequests  prometheus.Counter
	hubConnections  prometheus.Gauge
	queueDepth      prometheus.GaugeFunc
}

// New registers the collectors on reg. depth, if non-nil, reports the
// outbound queue length at scrape time.
func New(reg prometheus.Registerer, depth func() int) *Metrics {
	promFactory := promauto.With(reg)
	m := &Metrics{
		framesForwarded: promFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsrelay_frames_forwarded_total",
				Help: "Packet frames queued for the tunnel, labelled by route",
			},
			[]string{"route"},
		),
		framesDropped: promFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsrelay_frames_dropped_total",
				Help: "Packet frames that never reached the tunnel, labelled by route and reason",
			},
			[]string{"route", "reason"},
		),
		tunnelRequests: promFactory.NewCounter(prometheus.CounterOpts{
			Name: "wsrelay_tunnel_requests_total",
			Help: "Requests received from tunnel-side clients",
		}),
		hubConnections: promFactory.NewGauge(prometheus.GaugeOpts{
			Name: "wsrelay_hub_connections",
			Help: "Websocket clients currently connected to the local hub",
		}),
	}
	if depth != nil {
		m.queueDepth = promFactory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wsrelay_outbound_queue_depth",
			Help: "Messages waiting to be written to the tunnel link",
		}, func() float64 { return float64(depth()) })
	}
	return m
}

// FrameForwarded implements relay.Observer.
func (m *Metrics) FrameForwarded(f *protocol.PacketFrame) {
	m.framesForwarded.WithLabelValues(f.Route()).Inc()
}

// FrameDropped implements relay.Observer.
func (m *Metrics) FrameDropped(f *protocol.PacketFrame, err error) {
	m.framesDropped.WithLabelValues(f.Route(), dropReason(err)).Inc()
}

// TunnelRequest counts one inbound tunnel request.
func (m *Metrics) TunnelRequest() {
	m.tunnelRequests.Inc()
}

// ConnectionOpened and ConnectionClosed track the hub's live sockets.
func (m *Metrics) ConnectionOpened() { m.hubConnections.Inc() }
func (m *Metrics) ConnectionClosed() { m.hubConnections.Dec() }

func dropReason(err error) string {
	switch {
	case errors.Is(err, outbound.ErrQueueFull):
		return "full"
	case errors.Is(err, outbound.ErrQueueClosed):
		return "closed"
	case errors.Is(err, protocol.ErrConflictingFilters):
		return "invalid"
	default:
		return "other"
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
