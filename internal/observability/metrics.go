package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	envelopesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "winerp",
			Subsystem: "wire",
			Name:      "envelopes_sent_total",
			Help:      "Envelopes written to the relay connection.",
		},
		[]string{"peer", "type"},
	)
	envelopesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "winerp",
			Subsystem: "wire",
			Name:      "envelopes_received_total",
			Help:      "Envelopes read from the relay connection.",
		},
		[]string{"peer", "type"},
	)
	malformedEnvelopes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "winerp",
			Subsystem: "wire",
			Name:      "malformed_envelopes_total",
			Help:      "Inbound messages rejected by the envelope codec.",
		},
		[]string{"peer"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "winerp",
			Subsystem: "request",
			Name:      "duration_seconds",
			Help:      "Correlated request round-trip duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"peer", "outcome"},
	)
	requestsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "winerp",
			Subsystem: "request",
			Name:      "in_flight",
			Help:      "Pending correlated requests awaiting resolution.",
		},
		[]string{"peer"},
	)
	dispatchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "winerp",
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Inbound route dispatch outcomes.",
		},
		[]string{"peer", "route", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			envelopesSent,
			envelopesReceived,
			malformedEnvelopes,
			requestDuration,
			requestsInFlight,
			dispatchOutcomes,
		)
	})
}

func RecordEnvelopeSent(peer, msgType string) {
	RegisterMetrics()
	envelopesSent.WithLabelValues(peer, msgType).Inc()
}

func RecordEnvelopeReceived(peer, msgType string) {
	RegisterMetrics()
	envelopesReceived.WithLabelValues(peer, msgType).Inc()
}

func RecordMalformedEnvelope(peer string) {
	RegisterMetrics()
	malformedEnvelopes.WithLabelValues(peer).Inc()
}

func RecordRequest(peer, outcome string, duration time.Duration) {
	RegisterMetrics()
	requestDuration.WithLabelValues(peer, outcome).Observe(duration.Seconds())
}

func RequestStarted(peer string) {
	RegisterMetrics()
	requestsInFlight.WithLabelValues(peer).Inc()
}

func RequestFinished(peer string) {
	RegisterMetrics()
	requestsInFlight.WithLabelValues(peer).Dec()
}

func RecordDispatch(peer, route, outcome string) {
	RegisterMetrics()
	dispatchOutcomes.WithLabelValues(peer, route, outcome).Inc()
}
