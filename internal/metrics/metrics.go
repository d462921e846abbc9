package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors shared by the authority, the
// coordinators and the audit pipeline.
type Metrics struct {
	SeatsAvailable prometheus.Gauge
	SeatsTotal     prometheus.Gauge
	Bookings       *prometheus.CounterVec
	CommitDuration prometheus.Histogram
	Negotiations   *prometheus.CounterVec
	Retries        *prometheus.CounterVec
	StaleMessages  prometheus.Counter
	Replays        prometheus.Counter
	AuditDropped   prometheus.Counter
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SeatsAvailable: f.NewGauge(prometheus.GaugeOpts{
			Name: "seats_available",
			Help: "Seats still available at the last self-check",
		}),
		SeatsTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "seats_total",
			Help: "Seats in the layout",
		}),
		Bookings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bookings_total",
			Help: "Booking attempts by outcome",
		}, []string{"outcome"}),
		CommitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "booking_commit_duration_seconds",
			Help:    "Time spent holding the exclusive seat lock",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
		Negotiations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "negotiations_total",
			Help: "Finished negotiations by outcome",
		}, []string{"outcome"}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "negotiation_retries_total",
			Help: "Re-attempts by trigger",
		}, []string{"reason"}),
		StaleMessages: f.NewCounter(prometheus.CounterOpts{
			Name: "stale_messages_total",
			Help: "Envelopes dropped for conversation or reply-token mismatch",
		}),
		Replays: f.NewCounter(prometheus.CounterOpts{
			Name: "authority_replayed_replies_total",
			Help: "Duplicate requests answered from the reply cache",
		}),
		AuditDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "audit_dropped_total",
			Help: "Audit records dropped because the buffer was full",
		}),
	}
}

// NewUnregistered returns collectors bound to a private registry, for
// components constructed without explicit metrics.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
