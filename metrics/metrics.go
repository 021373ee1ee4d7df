// Package metrics exposes prometheus counters for the engine's hot
// paths. Counters are package-level so domain code can record without
// carrying a registry; the HTTP layer mounts promhttp for scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skills",
		Subsystem: "engine",
		Name:      "events_applied_total",
		Help:      "Skill events admitted to the ledger.",
	})

	eventsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skills",
		Subsystem: "engine",
		Name:      "events_throttled_total",
		Help:      "Skill events rejected by interval, occurrence, or daily caps.",
	})

	pointsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skills",
		Subsystem: "engine",
		Name:      "points_expired_total",
		Help:      "Points revoked by the expiration sweep.",
	})

	approvalsDecided = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skills",
		Subsystem: "engine",
		Name:      "approvals_decided_total",
		Help:      "Approval requests decided, by outcome.",
	}, []string{"outcome"})
)

func RecordEventApplied()   { eventsApplied.Inc() }
func RecordEventThrottled() { eventsThrottled.Inc() }

func RecordPointsExpired(points int) { pointsExpired.Add(float64(points)) }

func RecordApprovalApproved() { approvalsDecided.WithLabelValues("approved").Inc() }
func RecordApprovalRejected() { approvalsDecided.WithLabelValues("rejected").Inc() }
