package mesh

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors a running App exposes, all
// namespaced "meshrt_":
//
//   - extension_thread_queue_depth (gauge, labels: app, group): pending
//     messages on one extension thread's inbound queue.
//   - inflight_commands (gauge, labels: app, graph_id): out-paths currently
//     awaiting a result at engine scope.
//   - dispatch_latency_ms (histogram, labels: app, msg_name): time from a
//     command's dispatch to its settled result.
//   - path_expirations_total (counter, labels: app, graph_id): out-paths
//     reaped by the TTL sweep without a matching result.
//   - remote_reconnects_total (counter, labels: app, remote_uri): times a
//     Remote has had to be re-established after closing.
type Metrics struct {
	queueDepth    *prometheus.GaugeVec
	inflightCmds  *prometheus.GaugeVec
	dispatchLat   *prometheus.HistogramVec
	pathExpiries  *prometheus.CounterVec
	reconnects    *prometheus.CounterVec
}

// NewMetrics registers every collector with reg (use prometheus.DefaultRegisterer
// for the global registry, or a fresh prometheus.NewRegistry() for tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "meshrt",
			Name:      "extension_thread_queue_depth",
			Help:      "Pending messages on one extension thread's inbound queue.",
		}, []string{"app", "group"}),
		inflightCmds: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "meshrt",
			Name:      "inflight_commands",
			Help:      "Out-paths currently awaiting a result at engine scope.",
		}, []string{"app", "graph_id"}),
		dispatchLat: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "meshrt",
			Name:      "dispatch_latency_ms",
			Help:      "Time from a command's dispatch to its settled result.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"app", "msg_name"}),
		pathExpiries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshrt",
			Name:      "path_expirations_total",
			Help:      "Out-paths reaped by the TTL sweep without a matching result.",
		}, []string{"app", "graph_id"}),
		reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshrt",
			Name:      "remote_reconnects_total",
			Help:      "Times a Remote has had to be re-established after closing.",
		}, []string{"app", "remote_uri"}),
	}
}

func (m *Metrics) SetQueueDepth(app, group string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(app, group).Set(float64(depth))
}

func (m *Metrics) SetInflightCommands(app, graphID string, n int) {
	if m == nil {
		return
	}
	m.inflightCmds.WithLabelValues(app, graphID).Set(float64(n))
}

func (m *Metrics) ObserveDispatchLatencyMS(app, msgName string, ms float64) {
	if m == nil {
		return
	}
	m.dispatchLat.WithLabelValues(app, msgName).Observe(ms)
}

func (m *Metrics) IncPathExpiry(app, graphID string) {
	if m == nil {
		return
	}
	m.pathExpiries.WithLabelValues(app, graphID).Inc()
}

func (m *Metrics) IncRemoteReconnect(app, remoteURI string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(app, remoteURI).Inc()
}
