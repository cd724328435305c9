// Package metrics exposes queue health to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go-subband-ingest/internal/model"
)

var (
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "subband_ingest",
		Name:      "queue_groups",
		Help:      "Number of observation groups per queue state.",
	}, []string{"state"})

	conversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subband_ingest",
		Name:      "conversions_total",
		Help:      "Conversion attempts by outcome (completed, retried, failed).",
	}, []string{"outcome"})

	conversionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "subband_ingest",
		Name:      "conversion_seconds",
		Help:      "Wall-clock duration of Convert calls.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
)

// SetQueueDepth publishes the per-state group counts.
func SetQueueDepth(counts map[model.GroupState]int) {
	for state, n := range counts {
		queueDepth.WithLabelValues(string(state)).Set(float64(n))
	}
}

// ObserveConversion records one finished Convert call.
func ObserveConversion(outcome string, elapsed time.Duration) {
	conversionsTotal.WithLabelValues(outcome).Inc()
	conversionSeconds.Observe(elapsed.Seconds())
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
