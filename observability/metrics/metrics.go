// Package metrics exposes the Prometheus collectors named in spec.md §6,
// plus the per-stage latency histograms and per-reject-reason counters the
// expansion adds. Collectors are process-global, so — mirroring the
// teacher's sync.Once-guarded singletons — this package keeps one lazily
// built registry per subsystem rather than threading a registry handle
// through every worker.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Node is the singleton collector set for this CCN process.
type Node struct {
	PendingMessagesTotal prometheus.Gauge
	PendingTxsTotal      prometheus.Gauge
	MessagesTotal        prometheus.Counter
	LastCommittedHeight  *prometheus.GaugeVec // labeled by chain
	StageLatency         *prometheus.HistogramVec // labeled by stage
	RejectReasons        *prometheus.CounterVec   // labeled by reason
	CASObjectsTotal      prometheus.Gauge
	GCReclaimedTotal     prometheus.Counter
}

var (
	once     sync.Once
	instance *Node
)

// Default returns the process-wide Node instance, constructing and
// registering it with prometheus.DefaultRegisterer on first use.
func Default() *Node {
	once.Do(func() {
		instance = newNode()
		instance.register(prometheus.DefaultRegisterer)
	})
	return instance
}

func newNode() *Node {
	return &Node{
		PendingMessagesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ccn",
			Name:      "pending_messages_total",
			Help:      "Number of rows currently in pending_message.",
		}),
		PendingTxsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ccn",
			Name:      "pending_txs_total",
			Help:      "Number of rows currently in pending_tx.",
		}),
		MessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ccn",
			Name:      "messages_total",
			Help:      "Number of confirmed messages ever applied.",
		}),
		LastCommittedHeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ccn",
			Name:      "last_committed_height",
			Help:      "Highest chain height whose pending_tx writes have committed, per chain.",
		}, []string{"chain"}),
		StageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ccn",
			Name:      "stage_latency_seconds",
			Help:      "Processing latency per pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		RejectReasons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ccn",
			Name:      "rejected_total",
			Help:      "Permanently rejected pending rows, by reason.",
		}, []string{"reason"}),
		CASObjectsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ccn",
			Name:      "cas_objects_total",
			Help:      "Number of objects tracked by the content-addressed store.",
		}),
		GCReclaimedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ccn",
			Name:      "gc_reclaimed_total",
			Help:      "Number of stored files reclaimed by the GC loop.",
		}),
	}
}

func (n *Node) register(reg prometheus.Registerer) {
	reg.MustRegister(
		n.PendingMessagesTotal,
		n.PendingTxsTotal,
		n.MessagesTotal,
		n.LastCommittedHeight,
		n.StageLatency,
		n.RejectReasons,
		n.CASObjectsTotal,
		n.GCReclaimedTotal,
	)
}

// NewForTest builds an unregistered Node for use in package tests, avoiding
// "duplicate metrics collector registration" panics across test cases.
func NewForTest() *Node {
	return newNode()
}
