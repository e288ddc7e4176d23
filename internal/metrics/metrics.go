// Package metrics holds the process-wide counters mutated by every other
// component: connections, messages, and errors. Counters are kept as atomics
// for the in-band snapshot reply and mirrored into Prometheus collectors for
// the scrape endpoint.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Snapshot is the point-in-time counter view returned to clients asking for
// server metrics.
type Snapshot struct {
	MessagesSent      int64 `json:"messages_sent"`
	MessagesReceived  int64 `json:"messages_received"`
	Errors            int64 `json:"errors"`
	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
}

// Metrics aggregates the server counters. The zero value is not usable; use
// New.
type Metrics struct {
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	errors           atomic.Int64
	active           atomic.Int64
	total            atomic.Int64

	promSent     prometheus.Counter
	promReceived prometheus.Counter
	promErrors   prometheus.Counter
	promActive   prometheus.Gauge
	promTotal    prometheus.Counter
}

// New creates a Metrics instance registered with reg. A nil reg uses the
// default Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		promSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "collabd",
			Name:      "messages_sent_total",
			Help:      "Total envelopes written to clients",
		}),
		promReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "collabd",
			Name:      "messages_received_total",
			Help:      "Total inbound frames received from clients",
		}),
		promErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "collabd",
			Name:      "errors_total",
			Help:      "Total handler and transport errors",
		}),
		promActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "collabd",
			Name:      "active_connections",
			Help:      "Number of live sessions in the registry",
		}),
		promTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "collabd",
			Name:      "connections_total",
			Help:      "Total connections accepted since process start",
		}),
	}
}

// NewNop creates a Metrics instance backed by a private registry, for tests
// that do not scrape.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// MessageSent records one envelope written to a client.
func (m *Metrics) MessageSent() {
	m.messagesSent.Add(1)
	m.promSent.Inc()
}

// MessageReceived records one inbound frame.
func (m *Metrics) MessageReceived() {
	m.messagesReceived.Add(1)
	m.promReceived.Inc()
}

// Error records one handler or transport error.
func (m *Metrics) Error() {
	m.errors.Add(1)
	m.promErrors.Inc()
}

// ConnectionOpened records a session entering the registry. The total counter
// is monotonically non-decreasing for the life of the process.
func (m *Metrics) ConnectionOpened() {
	m.total.Add(1)
	m.active.Add(1)
	m.promTotal.Inc()
	m.promActive.Inc()
}

// ConnectionClosed records a session leaving the registry.
func (m *Metrics) ConnectionClosed() {
	m.active.Add(-1)
	m.promActive.Dec()
}

// Active returns the current live-session count.
func (m *Metrics) Active() int64 {
	return m.active.Load()
}

// Collect returns the current counter values.
func (m *Metrics) Collect() Snapshot {
	return Snapshot{
		MessagesSent:      m.messagesSent.Load(),
		MessagesReceived:  m.messagesReceived.Load(),
		Errors:            m.errors.Load(),
		ActiveConnections: m.active.Load(),
		TotalConnections:  m.total.Load(),
	}
}
