package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "skybridge_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "bridge"},
		},
		[]string{"date", "sha", "version"},
	)

	idsAssigned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skybridge_ids_assigned_total",
			Help: "Snowflake IDs newly assigned to native keys",
		},
		[]string{"kind"},
	)

	idCollisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skybridge_id_collisions_total",
			Help: "Candidate IDs rejected because they already map to a different key",
		},
		[]string{"kind"},
	)

	reverseLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skybridge_reverse_lookups_total",
			Help: "Reverse lookups by outcome",
		},
		[]string{"outcome"},
	)

	sessionsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "skybridge_sessions_inflight",
			Help: "Session-scoped clients currently registered",
		},
	)

	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skybridge_sessions_total",
			Help: "Completed session-scoped operations by outcome",
		},
		[]string{"outcome"},
	)

	sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skybridge_session_duration_seconds",
			Help:    "Time from registration to deregistration of a session-scoped client",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
)

// Register registers all bridge metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, idsAssigned, idCollisions, reverseLookups, sessionsInflight, sessionsTotal, sessionDuration)
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// RecordIDAssigned counts a newly persisted mapping.
func RecordIDAssigned(kind string) {
	idsAssigned.WithLabelValues(kind).Inc()
}

// RecordIDCollision counts a rejected candidate.
func RecordIDCollision(kind string) {
	idCollisions.WithLabelValues(kind).Inc()
}

// RecordReverseLookup counts a reverse lookup; found selects the outcome label.
func RecordReverseLookup(found bool) {
	outcome := "hit"
	if !found {
		outcome = "miss"
	}
	reverseLookups.WithLabelValues(outcome).Inc()
}

// SessionStart marks a session-scoped client as registered.
func SessionStart() { sessionsInflight.Inc() }

// SessionEnd marks a session-scoped client as deregistered.
func SessionEnd(outcome string, d time.Duration) {
	sessionsInflight.Dec()
	sessionsTotal.WithLabelValues(outcome).Inc()
	sessionDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
