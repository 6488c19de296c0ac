package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for both node roles. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	reg prometheus.Gatherer

	ReplicaCalls          *prometheus.CounterVec
	ReplicaCallDuration   *prometheus.HistogramVec
	TransferDecisions     *prometheus.CounterVec
	ReconciliationMissing prometheus.Counter
	LedgerTransfers       *prometheus.CounterVec
}

// New creates and registers all collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		ReplicaCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgermesh_replica_calls_total",
			Help: "Outbound calls to worker nodes by operation and result",
		}, []string{"op", "result"}),
		ReplicaCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledgermesh_replica_call_duration_seconds",
			Help:    "Latency of outbound calls to worker nodes",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		TransferDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgermesh_transfer_decisions_total",
			Help: "Coordinator transfer decisions by outcome",
		}, []string{"outcome"}),
		ReconciliationMissing: f.NewCounter(prometheus.CounterOpts{
			Name: "ledgermesh_reconciliation_node_failures_total",
			Help: "Nodes that contributed zero to a reconciliation because they failed",
		}),
		LedgerTransfers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgermesh_ledger_transfers_total",
			Help: "Worker-local transfer attempts by resulting status",
		}, []string{"status"}),
	}
}

// ObserveReplicaCall records one outbound call.
func (m *Metrics) ObserveReplicaCall(op string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.ReplicaCalls.WithLabelValues(op, result).Inc()
	m.ReplicaCallDuration.WithLabelValues(op).Observe(seconds)
}

// IncTransferDecision counts an ACCEPTED/REJECTED/UNAVAILABLE decision.
func (m *Metrics) IncTransferDecision(outcome string) {
	if m == nil {
		return
	}
	m.TransferDecisions.WithLabelValues(outcome).Inc()
}

// IncReconciliationMissing counts a node substituted with zero.
func (m *Metrics) IncReconciliationMissing() {
	if m == nil {
		return
	}
	m.ReconciliationMissing.Inc()
}

// IncLedgerTransfer counts a worker-side transfer by status.
func (m *Metrics) IncLedgerTransfer(status string) {
	if m == nil {
		return
	}
	m.LedgerTransfers.WithLabelValues(status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
