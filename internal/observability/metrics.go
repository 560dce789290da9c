package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the in-process counters the Worker Loop updates once per
// batch and logs periodically. There is no served /metrics endpoint — a
// network surface of its own is excluded by spec's Non-goals — these
// counters exist only to be gathered and written to the log.
type Metrics struct {
	registry *prometheus.Registry

	Claimed        prometheus.Counter
	SkippedLocked  prometheus.Counter
	SkippedStolen  prometheus.Counter
	Dispatched     prometheus.Counter
	DispatchFailed prometheus.Counter
	Archived       prometheus.Counter
	FailedArchived prometheus.Counter
	BatchDuration  prometheus.Histogram
}

// NewMetrics registers a fresh set of counters against a private registry,
// so multiple Worker instances in the same test binary don't collide on
// the global default registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		Claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailworker_claimed_total", Help: "Rows claimed from MailQueue.",
		}),
		SkippedLocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailworker_skipped_locked_total", Help: "Candidates skipped: advisory lock unavailable.",
		}),
		SkippedStolen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailworker_skipped_stolen_total", Help: "Candidates skipped: CAS lost the race.",
		}),
		Dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailworker_dispatched_total", Help: "Rows successfully dispatched to a provider.",
		}),
		DispatchFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailworker_dispatch_failed_total", Help: "Rows whose dispatch failed: provider failure or invalid destination.",
		}),
		Archived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailworker_archived_total", Help: "Rows moved to MailArchive.",
		}),
		FailedArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailworker_failed_archived_total", Help: "Rows moved to FailedMail.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "mailworker_batch_duration_seconds", Help: "Wall time of one claim-dispatch-archive batch.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(m.Claimed, m.SkippedLocked, m.SkippedStolen, m.Dispatched,
		m.DispatchFailed, m.Archived, m.FailedArchived, m.BatchDuration)
	return m
}

// ObserveBatch records a batch's wall-clock duration.
func (m *Metrics) ObserveBatch(d time.Duration) {
	m.BatchDuration.Observe(d.Seconds())
}

// Snapshot gathers the current counter values for the worker's periodic log
// line, rather than exposing them over HTTP.
type Snapshot struct {
	Claimed, SkippedLocked, SkippedStolen int
	Dispatched, DispatchFailed            int
	Archived, FailedArchived              int
}

func (m *Metrics) Snapshot() (Snapshot, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return Snapshot{}, err
	}

	values := make(map[string]int, len(families))
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			values[f.GetName()] = int(metric.GetCounter().GetValue())
		}
	}

	return Snapshot{
		Claimed:        values["mailworker_claimed_total"],
		SkippedLocked:  values["mailworker_skipped_locked_total"],
		SkippedStolen:  values["mailworker_skipped_stolen_total"],
		Dispatched:     values["mailworker_dispatched_total"],
		DispatchFailed: values["mailworker_dispatch_failed_total"],
		Archived:       values["mailworker_archived_total"],
		FailedArchived: values["mailworker_failed_archived_total"],
	}, nil
}
