package metrics

import "github.com/prometheus/client_golang/prometheus"

// IntakeMetrics exposes counters/histograms for the intake workflow.
type IntakeMetrics struct {
	resolutionsTotal  *prometheus.CounterVec
	submissionsTotal  *prometheus.CounterVec
	generationLatency *prometheus.HistogramVec
	invitesTotal      *prometheus.CounterVec
	deliveriesTotal   *prometheus.CounterVec
}

func NewIntakeMetrics(reg prometheus.Registerer) *IntakeMetrics {
	m := &IntakeMetrics{
		resolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "careprep",
			Subsystem: "intake",
			Name:      "token_resolutions_total",
			Help:      "Total intake token resolution attempts",
		}, []string{"status"}),
		submissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "careprep",
			Subsystem: "intake",
			Name:      "section_submissions_total",
			Help:      "Total section submissions",
		}, []string{"section", "status"}),
		generationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "careprep",
			Subsystem: "intake",
			Name:      "questionnaire_generation_seconds",
			Help:      "Latency of symptom questionnaire generation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "status"}),
		invitesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "careprep",
			Subsystem: "intake",
			Name:      "invites_enqueued_total",
			Help:      "Total invite delivery jobs enqueued",
		}, []string{"status"}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "careprep",
			Subsystem: "delivery",
			Name:      "invite_emails_total",
			Help:      "Total invite email delivery attempts",
		}, []string{"provider", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.resolutionsTotal, m.submissionsTotal, m.generationLatency, m.invitesTotal, m.deliveriesTotal)
	return m
}

func (m *IntakeMetrics) ObserveResolution(status string) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(status).Inc()
}

func (m *IntakeMetrics) ObserveSubmission(section, status string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(section, status).Inc()
}

func (m *IntakeMetrics) ObserveGeneration(provider, status string, seconds float64) {
	if m == nil {
		return
	}
	m.generationLatency.WithLabelValues(provider, status).Observe(seconds)
}

func (m *IntakeMetrics) ObserveInviteEnqueued() {
	if m == nil {
		return
	}
	m.invitesTotal.WithLabelValues("ok").Inc()
}

func (m *IntakeMetrics) ObserveDelivery(provider, status string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(provider, status).Inc()
}
