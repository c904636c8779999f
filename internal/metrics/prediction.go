package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prediction Prometheus metrics.
var (
	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "addrscore",
			Name:      "predictions_total",
			Help:      "Total number of address predictions",
		},
		[]string{"outcome"}, // "illicit" / "licit" / "failure"
	)

	PredictionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "addrscore",
			Name:      "prediction_failures_total",
			Help:      "Prediction failures by pipeline stage",
		},
		[]string{"stage"},
	)

	PredictionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "addrscore",
			Name:      "prediction_duration_seconds",
			Help:      "Address prediction duration in seconds",
			Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05},
		},
	)

	ModelPrepareDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "addrscore",
			Name:      "model_prepare_duration_seconds",
			Help:      "Time spent decoding, optimizing and planning the model",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	VerdictCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "addrscore",
			Name:      "verdict_cache_total",
			Help:      "Verdict cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)
)

var registerPredictionOnce sync.Once

// RegisterPredictionMetrics registers Prometheus prediction metrics on the default registry.
// Later calls are no-ops.
func RegisterPredictionMetrics() {
	registerPredictionOnce.Do(func() {
		prometheus.MustRegister(
			PredictionsTotal,
			PredictionFailuresTotal,
			PredictionDuration,
			ModelPrepareDuration,
			VerdictCacheTotal,
		)
	})
}
