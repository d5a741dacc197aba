package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveReservation("ok")
	m.ObserveReservation("ok")
	m.ObserveReservation("capacity_exceeded")
	m.ObserveExpired("reservation")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.reservations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reservations.WithLabelValues("capacity_exceeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.expired.WithLabelValues("reservation")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveReservation("ok")
	m.ObserveRelease("ok")
	m.ObserveNotification("applied")
	m.ObserveExpired("appointment")
	m.ObserveTransition("pending", "confirmed")
	m.ObserveVerifyLatency(0.1)
}
