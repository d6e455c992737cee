package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestBookingMetricsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)

	m.ObserveBooking("success", false, 0.02)
	m.ObserveBooking("success", true, 0.001)
	m.ObserveBooking("slot_unavailable", false, 0.01)
	m.ObserveClaim(true)
	m.ObserveLead("created")
	m.ObserveJob("booking.confirmation", "completed", 0.3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("success", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("success", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.claimsTotal.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.leadsTotal.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("booking.confirmation", "completed")))
}

func TestBookingMetricsNilSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveBooking("success", false, 0.1)
	m.ObserveClaim(false)
	m.ObserveLead("failed")
	m.ObserveJob("lead.received", "failed", 0.1)
}
