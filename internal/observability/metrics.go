package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pbs_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	BookingsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pbs_bookings_created_total",
			Help: "Total bookings created",
		},
	)

	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pbs_settlements_total",
			Help: "Settlement attempts by path and outcome",
		},
		[]string{"path", "outcome"},
	)

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pbs_booking_transitions_total",
			Help: "Booking state transitions by event",
		},
		[]string{"event"},
	)

	DBTxDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pbs_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pbs_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox record",
		},
	)

	ExpiredBookings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pbs_expired_bookings_total",
			Help: "Bookings expired out of pending_payment",
		},
	)

	RateLimitExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pbs_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(RequestsTotal, BookingsCreated, SettlementsTotal, TransitionsTotal, DBTxDuration, OutboxLag, ExpiredBookings, RateLimitExceeded)
}
