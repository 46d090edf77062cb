package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the reconciliation jobs.
type Metrics struct {
	// Completed runs by job and result ("ok", "global_error")
	Runs *prometheus.CounterVec

	// Run latency by job
	RunDuration *prometheus.HistogramVec

	// Item outcomes by job and status ("enrolled", "dry_run", "skipped", "error", ...)
	Items *prometheus.CounterVec

	// Directory calls made by bundle operations, by operation and status
	ResourceOperations *prometheus.CounterVec

	// Runs rejected because another run of the same job held the lock
	LockContention *prometheus.CounterVec
}

// New creates the reconciliation metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bundlesync_runs_total",
			Help: "Total reconciliation runs by job and result",
		}, []string{"job", "result"}),

		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bundlesync_run_duration_seconds",
			Help:    "Duration of reconciliation runs by job",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"job"}),

		Items: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bundlesync_items_total",
			Help: "Items processed by reconciliation runs, by job and status",
		}, []string{"job", "status"}),

		ResourceOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bundlesync_resource_operations_total",
			Help: "Per-resource enroll and unenroll calls by operation and status",
		}, []string{"operation", "status"}),

		LockContention: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bundlesync_run_lock_contention_total",
			Help: "Runs skipped because another run held the job lock",
		}, []string{"job"}),
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(job, result string, d time.Duration) {
	if m != nil {
		m.Runs.WithLabelValues(job, result).Inc()
		m.RunDuration.WithLabelValues(job).Observe(d.Seconds())
	}
}

// AddItems records n items with the given status.
func (m *Metrics) AddItems(job, status string, n int) {
	if m != nil && n > 0 {
		m.Items.WithLabelValues(job, status).Add(float64(n))
	}
}

// IncrementResourceOperation records one per-resource directory call.
func (m *Metrics) IncrementResourceOperation(op, status string) {
	if m != nil {
		m.ResourceOperations.WithLabelValues(op, status).Inc()
	}
}

// IncrementLockContention records a run rejected by the job lock.
func (m *Metrics) IncrementLockContention(job string) {
	if m != nil {
		m.LockContention.WithLabelValues(job).Inc()
	}
}
