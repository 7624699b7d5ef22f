// Package metrics registers the bot's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the services report into. A nil *Metrics is
// valid and records nothing, so tests can pass nil.
type Metrics struct {
	reg *prometheus.Registry

	outboxSent    prometheus.Counter
	outboxFailed  prometheus.Counter
	outboxDropped prometheus.Counter
	outboxPending prometheus.Gauge

	batchRecipients prometheus.Counter
	batchEnqueued   prometheus.Counter
	batchLevelSkips prometheus.Counter

	generatorCalls *prometheus.CounterVec
	ledgerChecks   *prometheus.CounterVec
	activations    prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		reg: reg,
		outboxSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thaibot_outbox_sent_total",
			Help: "Messages successfully handed to the chat transport.",
		}),
		outboxFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thaibot_outbox_failed_total",
			Help: "Messages dropped after a transport send failure.",
		}),
		outboxDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thaibot_outbox_dropped_total",
			Help: "Messages dropped at enqueue time because the queue was full.",
		}),
		outboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "thaibot_outbox_pending",
			Help: "Messages currently waiting in the delivery queue.",
		}),
		batchRecipients: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thaibot_batch_recipients_total",
			Help: "Subscribers processed by daily batches.",
		}),
		batchEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thaibot_batch_enqueued_total",
			Help: "Lesson messages enqueued by daily batches.",
		}),
		batchLevelSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thaibot_batch_level_skips_total",
			Help: "Difficulty levels skipped in a batch because generation failed.",
		}),
		generatorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thaibot_generator_calls_total",
			Help: "Sentence generator API calls by result.",
		}, []string{"result"}),
		ledgerChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thaibot_ledger_checks_total",
			Help: "Payment ledger lookups by result.",
		}, []string{"result"}),
		activations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thaibot_subscriptions_activated_total",
			Help: "Subscriptions activated from verified payments.",
		}),
	}
	reg.MustRegister(
		m.outboxSent, m.outboxFailed, m.outboxDropped, m.outboxPending,
		m.batchRecipients, m.batchEnqueued, m.batchLevelSkips,
		m.generatorCalls, m.ledgerChecks, m.activations,
	)
	return m
}

// Handler exposes the registry for the HTTP server's /metrics route.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) OutboxSent() {
	if m != nil {
		m.outboxSent.Inc()
	}
}

func (m *Metrics) OutboxFailed() {
	if m != nil {
		m.outboxFailed.Inc()
	}
}

func (m *Metrics) OutboxDropped() {
	if m != nil {
		m.outboxDropped.Inc()
	}
}

func (m *Metrics) OutboxPending(n int) {
	if m != nil {
		m.outboxPending.Set(float64(n))
	}
}

func (m *Metrics) BatchRecipients(n int) {
	if m != nil {
		m.batchRecipients.Add(float64(n))
	}
}

func (m *Metrics) BatchEnqueued() {
	if m != nil {
		m.batchEnqueued.Inc()
	}
}

func (m *Metrics) BatchLevelSkipped() {
	if m != nil {
		m.batchLevelSkips.Inc()
	}
}

func (m *Metrics) GeneratorCall(result string) {
	if m != nil {
		m.generatorCalls.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) LedgerCheck(result string) {
	if m != nil {
		m.ledgerChecks.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SubscriptionActivated() {
	if m != nil {
		m.activations.Inc()
	}
}
