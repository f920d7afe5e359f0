package stream

import "github.com/prometheus/client_golang/prometheus"

var (
	terminalCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_feed",
		Subsystem: "stream",
		Name:      "terminal_events_total",
		Help:      "Number of run streams ended by a terminal event, labeled by type.",
	}, []string{"type"})

	protocolErrorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity_feed",
		Subsystem: "stream",
		Name:      "protocol_errors_total",
		Help:      "Number of malformed stream payloads discarded.",
	})

	transportFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity_feed",
		Subsystem: "stream",
		Name:      "transport_failures_total",
		Help:      "Number of run streams ended by a transport failure before any terminal event.",
	})
)

func init() {
	prometheus.MustRegister(terminalCounter, protocolErrorCounter, transportFailureCounter)
}

func recordTerminal(eventType string) {
	terminalCounter.WithLabelValues(eventType).Inc()
}

func recordProtocolError() {
	protocolErrorCounter.Inc()
}

func recordTransportFailure() {
	transportFailureCounter.Inc()
}
