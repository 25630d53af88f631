package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus instruments.
type Metrics struct {
	retrievals   *prometheus.CounterVec
	degradations *prometheus.CounterVec
	duration     prometheus.Histogram
	results      prometheus.Histogram
}

// NewMetrics registers the pipeline metrics on the given registerer. A nil
// registerer creates an unregistered set, which keeps construction safe in
// tests that build multiple retrievers.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		retrievals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "retrievd_retrievals_total",
			Help: "Retrieval calls by final status.",
		}, []string{"status"}),
		degradations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "retrievd_degradations_total",
			Help: "Stage degradations by reason code.",
		}, []string{"reason"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "retrievd_retrieval_duration_seconds",
			Help:    "End-to-end retrieval latency.",
			Buckets: prometheus.DefBuckets,
		}),
		results: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "retrievd_retrieval_results",
			Help:    "Result count per retrieval call.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),
	}
}
