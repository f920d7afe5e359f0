package feed

import "github.com/prometheus/client_golang/prometheus"

var (
	sourceErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_feed",
		Subsystem: "aggregator",
		Name:      "source_fetch_errors_total",
		Help:      "Number of failed per-source fetches, labeled by source.",
	}, []string{"source"})

	aggregateDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "activity_feed",
		Subsystem: "aggregator",
		Name:      "aggregate_duration_seconds",
		Help:      "Time spent fanning out, merging, and sorting one aggregate pass.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	refreshCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity_feed",
		Subsystem: "refresher",
		Name:      "refreshes_total",
		Help:      "Number of periodic fallback refreshes executed.",
	})
)

func init() {
	prometheus.MustRegister(sourceErrorCounter, aggregateDuration, refreshCounter)
}
