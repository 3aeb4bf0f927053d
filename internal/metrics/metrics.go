// Package metrics exposes Prometheus instrumentation for migration runs.
// The status server serves these on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ratchet_runs_started_total",
		Help: "Migration runs started, by direction.",
	}, []string{"direction"})

	RunsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ratchet_runs_failed_total",
		Help: "Migration runs that ended in failure, by direction.",
	}, []string{"direction"})

	MigrationsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ratchet_migrations_applied_total",
		Help: "Migrations applied successfully.",
	})

	MigrationsRolledBack = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ratchet_migrations_rolled_back_total",
		Help: "Migrations rolled back successfully.",
	})

	ApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ratchet_apply_duration_seconds",
		Help:    "Wall-clock time to apply one migration.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})

	LockWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ratchet_lock_wait_seconds",
		Help:    "Time spent waiting for the migration advisory lock.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})
)
