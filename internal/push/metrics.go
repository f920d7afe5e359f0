package push

import "github.com/prometheus/client_golang/prometheus"

var (
	acceptedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_feed",
		Subsystem: "push",
		Name:      "events_accepted_total",
		Help:      "Number of push notifications accepted into the new-events buffer, labeled by source kind.",
	}, []string{"kind"})

	duplicateCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity_feed",
		Subsystem: "push",
		Name:      "duplicates_dropped_total",
		Help:      "Number of push notifications suppressed by the recently-seen id set.",
	})

	skippedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity_feed",
		Subsystem: "push",
		Name:      "unwatched_skipped_total",
		Help:      "Number of push notifications ignored because the project is not watched.",
	})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_feed",
		Subsystem: "push",
		Name:      "decode_errors_total",
		Help:      "Number of push notifications whose payload did not fit its declared shape.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(acceptedCounter, duplicateCounter, skippedCounter, decodeErrorCounter)
}

func recordAccepted(kind string) {
	acceptedCounter.WithLabelValues(kind).Inc()
}

func recordDuplicate() {
	duplicateCounter.Inc()
}

func recordSkipped() {
	skippedCounter.Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}
