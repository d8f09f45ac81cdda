// Package metrics provides prometheus collectors of the user agent core.
//
// All methods of [*Metrics] are safe to call on a nil receiver, so metrics stay optional.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the user agent collectors.
// It implements [prometheus.Collector] and can be registered as a whole.
type Metrics struct {
	sessionsStarted   *prometheus.CounterVec
	sessionsEnded     *prometheus.CounterVec
	sessionsActive    *prometheus.GaugeVec
	sessionSetup      *prometheus.HistogramVec
	transactions      *prometheus.CounterVec
	retransmissions   *prometheus.CounterVec
	timersExpired     *prometheus.CounterVec
	messagesDiscarded *prometheus.CounterVec
}

// New creates the collectors with metric names prefixed by the namespace.
func New(namespace string) *Metrics {
	return &Metrics{
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of INVITE sessions started.",
		}, []string{"direction"}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of INVITE sessions ended by cause.",
		}, []string{"direction", "cause"}),
		sessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live INVITE sessions.",
		}, []string{"direction"}),
		sessionSetup: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_setup_seconds",
			Help:      "Time from the INVITE to the confirmed session.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"direction"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Total number of transactions created by type.",
		}, []string{"type"}),
		retransmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retransmissions_total",
			Help:      "Total number of responses retransmitted by the user agent.",
		}, []string{"kind"}),
		timersExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timers_expired_total",
			Help:      "Total number of session timers expired.",
		}, []string{"timer"}),
		messagesDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_discarded_total",
			Help:      "Total number of inbound messages discarded.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.sessionsStarted,
		m.sessionsEnded,
		m.sessionsActive,
		m.sessionSetup,
		m.transactions,
		m.retransmissions,
		m.timersExpired,
		m.messagesDiscarded,
	}
}

// Describe implements [prometheus.Collector].
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements [prometheus.Collector].
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// SessionStarted counts a new session.
func (m *Metrics) SessionStarted(direction string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(direction).Inc()
	m.sessionsActive.WithLabelValues(direction).Inc()
}

// SessionEnded counts a terminated session.
func (m *Metrics) SessionEnded(direction, cause string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(direction, cause).Inc()
	m.sessionsActive.WithLabelValues(direction).Dec()
}

// SessionConfirmed observes the session setup time.
func (m *Metrics) SessionConfirmed(direction string, setup time.Duration) {
	if m == nil {
		return
	}
	m.sessionSetup.WithLabelValues(direction).Observe(setup.Seconds())
}

// TransactionCreated counts a transaction.
func (m *Metrics) TransactionCreated(typ string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(typ).Inc()
}

// Retransmitted counts a retransmission of the kind, like "2xx" or "reliable_1xx".
func (m *Metrics) Retransmitted(kind string) {
	if m == nil {
		return
	}
	m.retransmissions.WithLabelValues(kind).Inc()
}

// TimerExpired counts an expiration of the named timer.
func (m *Metrics) TimerExpired(timer string) {
	if m == nil {
		return
	}
	m.timersExpired.WithLabelValues(timer).Inc()
}

// MessageDiscarded counts an inbound message dropped for the reason.
func (m *Metrics) MessageDiscarded(reason string) {
	if m == nil {
		return
	}
	m.messagesDiscarded.WithLabelValues(reason).Inc()
}
