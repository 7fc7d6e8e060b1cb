package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesRequested   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_negotiation", Name: "rides_requested_total", Help: "Total rides registered on the ledger"})
	CandidatesServed = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_negotiation", Name: "candidates_per_request", Help: "Driver candidates returned per matching request", Buckets: []float64{0, 1, 2, 4, 8, 16}})
	AssignConflicts  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_negotiation", Name: "assign_conflicts_total", Help: "Assignments rejected because the ride already had a driver"})
	DriversOnline    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_negotiation", Name: "drivers_online", Help: "Number of online drivers"})

	PaymentLegAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_negotiation", Name: "payment_leg_attempts_total", Help: "Transfer attempts per payment leg"},
		[]string{"leg", "outcome"},
	)
	HandoffFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_negotiation", Name: "handoff_failures_total", Help: "QR handoff verifications that did not match"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_negotiation", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_negotiation",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
