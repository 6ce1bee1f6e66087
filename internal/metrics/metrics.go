// Package metrics holds the Prometheus collectors for the academic core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeOK        = "ok"
	OutcomeRejected  = "rejected"
	OutcomeDeferred  = "deferred"
	OutcomeConflict  = "conflict"
	OutcomeFailed    = "failed"
	OutcomeCorrected = "corrected"
)

var (
	SemesterMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edutrack_semester_mutations_total",
		Help: "Semester submissions and deletions by operation and outcome",
	}, []string{"operation", "outcome"})

	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edutrack_student_reconciliations_total",
		Help: "Student aggregate reconciliations by outcome",
	}, []string{"outcome"})

	StaleAggregates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edutrack_stale_aggregates_total",
		Help: "Student aggregates found out of date during reconciliation",
	})

	DeferredReconciles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edutrack_deferred_reconciles_total",
		Help: "Reconciliations queued for later repair after a semester write",
	})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edutrack_operation_duration_seconds",
		Help:    "Duration of academic core operations",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"operation"})

	LockWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "edutrack_student_lock_wait_seconds",
		Help:    "Time spent waiting for a per-student aggregate lock",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	LegacyStudentsMigrated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edutrack_legacy_students_migrated_total",
		Help: "Students processed by the legacy semester shape migration",
	}, []string{"outcome"})
)
