// Package metrics exposes popcore's operational counters and gauges as
// Prometheus metrics. The engine itself never blocks on a scrape; all
// updates are simple atomic increments on the hot path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry groups every metric popcore exports, namespaced under "popcore".
type Registry struct {
	BlocksAccepted   *prometheus.CounterVec // by chain: alt|vbk|btc
	BlocksRejected   *prometheus.CounterVec // by chain and reason
	ReorgsTotal      *prometheus.CounterVec // by chain
	PayloadsApplied  *prometheus.CounterVec // by kind: atv|vtb|vbk
	PayloadsInvalid  *prometheus.CounterVec // by kind
	ApplyDuration    prometheus.Histogram
	MempoolSize      *prometheus.GaugeVec // by kind
	ActiveChainTip   *prometheus.GaugeVec // by chain, value = height
	RefCounterLeaked prometheus.Counter   // assertion-class violations caught in tests
}

// NewRegistry creates and registers every popcore metric against reg.
// Pass prometheus.NewRegistry() for test isolation, or
// prometheus.DefaultRegisterer to expose on the process-wide /metrics page.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		BlocksAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "popcore",
			Name:      "blocks_accepted_total",
			Help:      "Number of blocks accepted into a tree, by chain.",
		}, []string{"chain"}),
		BlocksRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "popcore",
			Name:      "blocks_rejected_total",
			Help:      "Number of blocks rejected, by chain and reason.",
		}, []string{"chain", "reason"}),
		ReorgsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "popcore",
			Name:      "reorgs_total",
			Help:      "Number of active-tip switches, by chain.",
		}, []string{"chain"}),
		PayloadsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "popcore",
			Name:      "payloads_applied_total",
			Help:      "Number of payload command groups successfully applied, by kind.",
		}, []string{"kind"}),
		PayloadsInvalid: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "popcore",
			Name:      "payloads_invalid_total",
			Help:      "Number of payloads rejected as invalid, by kind.",
		}, []string{"kind"}),
		ApplyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "popcore",
			Name:      "apply_segment_duration_seconds",
			Help:      "Wall time spent in a single setState apply/unapply segment.",
			Buckets:   prometheus.DefBuckets,
		}),
		MempoolSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "popcore",
			Name:      "mempool_size",
			Help:      "Number of entities currently held in the mempool, by kind.",
		}, []string{"kind"}),
		ActiveChainTip: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "popcore",
			Name:      "active_tip_height",
			Help:      "Height of the active chain tip, by chain.",
		}, []string{"chain"}),
		RefCounterLeaked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "popcore",
			Name:      "refcounter_negative_total",
			Help:      "Number of times a refCounter would have gone negative (assertion violation).",
		}),
	}
}
