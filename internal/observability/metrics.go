package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	feedRefreshGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activity_feed",
		Subsystem: "aggregator",
		Name:      "last_refresh_timestamp_seconds",
		Help:      "Unix timestamp of the most recent full feed aggregate.",
	})
	pushEventGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activity_feed",
		Subsystem: "push",
		Name:      "last_event_timestamp_seconds",
		Help:      "Unix timestamp of the most recent event accepted from the push channel.",
	})
)

func init() {
	prometheus.MustRegister(feedRefreshGauge, pushEventGauge)
}

// RecordFeedRefreshed updates the aggregate watermark gauge.
func RecordFeedRefreshed(ts time.Time) {
	if ts.IsZero() {
		return
	}
	feedRefreshGauge.Set(float64(ts.Unix()))
}

// RecordPushEvent updates the push watermark gauge.
func RecordPushEvent(ts time.Time) {
	if ts.IsZero() {
		return
	}
	pushEventGauge.Set(float64(ts.Unix()))
}
