package metrics

import (
	"net/http"
	"time"

	"cctpbridge/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics methods are safe on a nil receiver so components can run without them
type Metrics struct {
	registry         *prometheus.Registry
	operations       *prometheus.CounterVec
	attestationPolls *prometheus.CounterVec
	submissions      *prometheus.CounterVec
	attestationWait  prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cctpbridge",
			Name:      "operations_total",
			Help:      "Bridge operation status transitions",
		}, []string{"status"}),
		attestationPolls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cctpbridge",
			Name:      "attestation_polls_total",
			Help:      "Attestation lookups by result",
		}, []string{"result"}),
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cctpbridge",
			Name:      "submissions_total",
			Help:      "Transaction submissions by transport and result",
		}, []string{"transport", "result"}),
		attestationWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cctpbridge",
			Name:      "attestation_wait_seconds",
			Help:      "Time from first lookup to a complete attestation",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OperationStatus(status types.Status) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) AttestationPoll(result string) {
	if m == nil {
		return
	}
	m.attestationPolls.WithLabelValues(result).Inc()
}

func (m *Metrics) Submission(transport, result string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(transport, result).Inc()
}

func (m *Metrics) AttestationWait(d time.Duration) {
	if m == nil {
		return
	}
	m.attestationWait.Observe(d.Seconds())
}
