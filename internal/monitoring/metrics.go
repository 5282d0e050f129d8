package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a private Prometheus registry with the gauges/counters/
// histograms this server exposes, adapted from the teacher's
// package-level metrics.go (there registered against the default
// registry; here scoped to one instance so tests can spin up many
// servers without colliding registrations).
type Metrics struct {
	reg *prometheus.Registry

	ClientsConnected    prometheus.Gauge
	ClientsTotal        prometheus.Counter
	ReceiveWaitSeconds  prometheus.Histogram
	ReceiveTimeouts     prometheus.Counter
	DomainWorkersActive prometheus.Gauge
	DomainWorkersTotal  prometheus.Counter
	MessagesApplied     prometheus.Counter
	MessagesRejected    *prometheus.CounterVec // label: reason (malformed_message, collision_create, collision_update, collision_delete)
	BroadcastsQueued    prometheus.Counter
	BroadcastsLost      prometheus.Counter // recipient unknown at enqueue time
	HooksDropped        prometheus.Counter
}

// NewMetrics constructs and registers a fresh metrics set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		reg: reg,
		ClientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "heron_push_clients_connected",
			Help: "Current number of registered push clients.",
		}),
		ClientsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heron_push_clients_total",
			Help: "Total push clients ever connected.",
		}),
		ReceiveWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "heron_push_receive_wait_seconds",
			Help:    "Time a /comet/receive call spent blocked before returning.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		ReceiveTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heron_push_receive_timeouts_total",
			Help: "Receive calls that returned empty because receive_timeout elapsed.",
		}),
		DomainWorkersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "heron_store_domain_workers_active",
			Help: "Domain workers currently running.",
		}),
		DomainWorkersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heron_store_domain_workers_started_total",
			Help: "Domain workers ever started (lazily re-created after self-termination).",
		}),
		MessagesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heron_store_messages_applied_total",
			Help: "Messages successfully applied to a domain's store.",
		}),
		MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heron_store_messages_rejected_total",
			Help: "Messages rejected, by reason.",
		}, []string{"reason"}),
		BroadcastsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heron_store_broadcasts_queued_total",
			Help: "Broadcast payloads successfully queued to a subscriber's inbox.",
		}),
		BroadcastsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heron_store_broadcasts_lost_total",
			Help: "Broadcast attempts whose recipient was no longer a known push client.",
		}),
		HooksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heron_push_hooks_dropped_total",
			Help: "Hook invocations dropped because the hook dispatch queue was full.",
		}),
	}

	reg.MustRegister(
		m.ClientsConnected, m.ClientsTotal, m.ReceiveWaitSeconds, m.ReceiveTimeouts,
		m.DomainWorkersActive, m.DomainWorkersTotal, m.MessagesApplied, m.MessagesRejected,
		m.BroadcastsQueued, m.BroadcastsLost, m.HooksDropped,
	)

	return m
}

// Handler returns the HTTP handler serving this registry in Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
