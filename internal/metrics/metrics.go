package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters/histograms for the booking core. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reservations  *prometheus.CounterVec
	releases      *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
	messages      *prometheus.CounterVec
	expired       *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	verifyLatency prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dna",
			Subsystem: "slots",
			Name:      "capacity_reservations_total",
			Help:      "Slot capacity reservation attempts by result",
		}, []string{"result"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dna",
			Subsystem: "slots",
			Name:      "capacity_releases_total",
			Help:      "Slot capacity releases by result",
		}, []string{"result"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dna",
			Subsystem: "payments",
			Name:      "notifications_total",
			Help:      "Gateway payment notifications by outcome",
		}, []string{"outcome"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dna",
			Subsystem: "notify",
			Name:      "messages_total",
			Help:      "Customer notifications by outcome",
		}, []string{"outcome"}),
		expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dna",
			Subsystem: "expiry",
			Name:      "expired_holds_total",
			Help:      "Holds expired by the sweep or lazily on read",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dna",
			Subsystem: "appointments",
			Name:      "transitions_total",
			Help:      "Appointment state transitions",
		}, []string{"from", "to"}),
		verifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dna",
			Subsystem: "gateway",
			Name:      "verify_latency_seconds",
			Help:      "Latency of gateway payment verification including retries",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.reservations, m.releases, m.webhooks, m.messages, m.expired, m.transitions, m.verifyLatency)
	return m
}

func (m *Metrics) ObserveReservation(result string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRelease(result string) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveNotification(outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveMessage(outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveExpired(kind string) {
	if m == nil {
		return
	}
	m.expired.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveVerifyLatency(seconds float64) {
	if m == nil {
		return
	}
	m.verifyLatency.Observe(seconds)
}
