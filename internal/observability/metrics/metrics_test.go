package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestIntakeMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewIntakeMetrics(reg)
	m.ObserveResolution("ok")
	m.ObserveSubmission("general", "ok")
	m.ObserveGeneration("gemini", "ok", 0.5)
	m.ObserveInviteEnqueued()
	m.ObserveDelivery("ses", "sent")
}

func TestIntakeMetricsNilSafe(t *testing.T) {
	var m *IntakeMetrics
	m.ObserveResolution("ok")
	m.ObserveSubmission("symptoms", "error")
	m.ObserveGeneration("bedrock", "error", 0.1)
	m.ObserveInviteEnqueued()
	m.ObserveDelivery("sendgrid", "failed")
}
