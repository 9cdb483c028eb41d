package ingest

import (
	"github.com/cun0/batch-ingest/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	submissions *prometheus.CounterVec
	ids         *prometheus.CounterVec
	dispatched  *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	violations  prometheus.Counter
	queueDepth  *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "batch_ingest",
			Name:      "ingestions_total",
			Help:      "Accepted ingestions by priority.",
		}, []string{"priority"}),
		ids: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "batch_ingest",
			Name:      "ids_total",
			Help:      "Accepted identifiers by priority.",
		}, []string{"priority"}),
		dispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "batch_ingest",
			Name:      "batches_dispatched_total",
			Help:      "Batches dequeued and triggered by the dispatcher.",
		}, []string{"priority"}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "batch_ingest",
			Name:      "batches_finished_total",
			Help:      "Batches that reached a terminal status.",
		}, []string{"status"}),
		violations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "batch_ingest",
			Name:      "transition_violations_total",
			Help:      "Batch status transitions rejected as out of order.",
		}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "batch_ingest",
			Name:      "queue_depth",
			Help:      "Pending batches per priority.",
		}, []string{"priority"}),
	}
}

func (m *Metrics) submitted(p domain.Priority, ids int) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(p.String()).Inc()
	m.ids.WithLabelValues(p.String()).Add(float64(ids))
}

func (m *Metrics) dispatch(p domain.Priority) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(p.String()).Inc()
}

func (m *Metrics) finished(s domain.BatchStatus) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) violation() {
	if m == nil {
		return
	}
	m.violations.Inc()
}

func (m *Metrics) depth(byPriority map[domain.Priority]int) {
	if m == nil {
		return
	}
	for p, n := range byPriority {
		m.queueDepth.WithLabelValues(p.String()).Set(float64(n))
	}
}
