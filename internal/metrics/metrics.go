// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadcall_events_total",
		Help: "Inbound conversation events by type",
	}, []string{"type"}) // type=start|field_update|submit|cancel

	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadcall_rejections_total",
		Help: "Rejected field values by field",
	}, []string{"field"})

	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadcall_submissions_total",
		Help: "Submission attempts by outcome",
	}, []string{"outcome"}) // outcome=delivered|failed|incomplete

	mediaFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadcall_media_failures_total",
		Help: "Photos that could not be delivered to the operator",
	}, []string{"channel"})

	recorderFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadcall_recorder_failures_total",
		Help: "Best-effort report sinks that failed",
	}, []string{"recorder"})

	expiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roadcall_sessions_expired_total",
		Help: "Sessions removed by the idle sweep",
	})

	// ActiveSessions is refreshed from the store by the sweep job.
	ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "roadcall_active_sessions",
		Help: "In-progress sessions per stage (last sweep)",
	}, []string{"stage"})
)

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// RecordEvent counts one handled inbound event.
func RecordEvent(eventType string) {
	eventsTotal.WithLabelValues(orUnknown(eventType)).Inc()
}

// RecordRejection counts a refused field value.
func RecordRejection(field string) {
	rejectionsTotal.WithLabelValues(orUnknown(field)).Inc()
}

// RecordSubmission counts a submission attempt.
func RecordSubmission(outcome string) {
	submissionsTotal.WithLabelValues(orUnknown(outcome)).Inc()
}

// RecordMediaFailure counts one photo that did not reach the operator.
func RecordMediaFailure(channel string) {
	mediaFailuresTotal.WithLabelValues(orUnknown(channel)).Inc()
}

// RecordRecorderFailure counts a failed report sink.
func RecordRecorderFailure(recorder string) {
	recorderFailuresTotal.WithLabelValues(orUnknown(recorder)).Inc()
}

// RecordExpired counts sessions removed for inactivity.
func RecordExpired(n int) {
	expiredTotal.Add(float64(n))
}

// SetActiveSessions replaces the per-stage gauge values.
func SetActiveSessions(perStage map[string]int) {
	ActiveSessions.Reset()
	for stage, n := range perStage {
		ActiveSessions.WithLabelValues(stage).Set(float64(n))
	}
}
