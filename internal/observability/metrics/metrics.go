package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics exposes counters/histograms for the booking core. A nil
// *BookingMetrics is valid and records nothing.
type BookingMetrics struct {
	bookingsTotal   *prometheus.CounterVec
	bookingLatency  *prometheus.HistogramVec
	claimsTotal     *prometheus.CounterVec
	leadsTotal      *prometheus.CounterVec
	jobsTotal       *prometheus.CounterVec
	jobDispatchTime *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "requests_total",
			Help:      "Booking requests by outcome",
		}, []string{"outcome", "replay"}),
		bookingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "request_duration_seconds",
			Help:      "End to end latency of booking requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		claimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "slot_claims_total",
			Help:      "Slot claim attempts that reached storage, by result",
		}, []string{"won"}),
		leadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "leads",
			Name:      "submissions_total",
			Help:      "Public lead submissions by result",
		}, []string{"result"}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Background jobs processed by type and outcome",
		}, []string{"type", "outcome"}),
		jobDispatchTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "jobs",
			Name:      "handler_duration_seconds",
			Help:      "Time spent in job handlers",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.bookingLatency, m.claimsTotal, m.leadsTotal, m.jobsTotal, m.jobDispatchTime)
	return m
}

func (m *BookingMetrics) ObserveBooking(outcome string, replay bool, seconds float64) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome, strconv.FormatBool(replay)).Inc()
	m.bookingLatency.WithLabelValues(outcome).Observe(seconds)
}

func (m *BookingMetrics) ObserveClaim(won bool) {
	if m == nil {
		return
	}
	m.claimsTotal.WithLabelValues(strconv.FormatBool(won)).Inc()
}

func (m *BookingMetrics) ObserveLead(result string) {
	if m == nil {
		return
	}
	m.leadsTotal.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveJob(jobType, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(jobType, outcome).Inc()
	m.jobDispatchTime.WithLabelValues(jobType).Observe(seconds)
}
