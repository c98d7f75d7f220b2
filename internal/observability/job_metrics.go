package observability

import (
	"sync/atomic"
	"time"
)

// ExecutionMetrics is a lock-free in-process counter set for the
// executor, in addition to (not instead of) the Prometheus vectors in
// Prom, for cheap summary logging.
type ExecutionMetrics struct {
	claimed      atomic.Uint64
	completed    atomic.Uint64
	failed       atomic.Uint64
	retried      atomic.Uint64
	deadLettered atomic.Uint64

	// duration stats (nanoseconds)
	durationCount atomic.Uint64
	durationTotal atomic.Int64
	durationMax   atomic.Int64
}

func NewExecutionMetrics() *ExecutionMetrics {
	m := &ExecutionMetrics{}
	m.durationMax.Store(0)
	return m
}

func (m *ExecutionMetrics) IncClaimed() {
	m.claimed.Add(1)
}
func (m *ExecutionMetrics) IncCompleted() {
	m.completed.Add(1)
}
func (m *ExecutionMetrics) IncFailed() {
	m.failed.Add(1)
}

func (m *ExecutionMetrics) IncRetried() {
	m.retried.Add(1)
}

func (m *ExecutionMetrics) IncDeadLettered() {
	m.deadLettered.Add(1)
}

func (m *ExecutionMetrics) ObserveDuration(d time.Duration) {
	ns := d.Nanoseconds()
	m.durationCount.Add(1)
	m.durationTotal.Add(ns)

	for {
		curr := m.durationMax.Load()

		if ns <= curr {
			return
		}

		if m.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type ExecutionMetricsSnapshot struct {
	Claimed         uint64
	Completed       uint64
	Failed          uint64
	Retried         uint64
	DeadLettered    uint64
	DurationCount   uint64
	AverageDuration time.Duration
	MaxDuration     time.Duration
}

func (m *ExecutionMetrics) Snapshot() ExecutionMetricsSnapshot {
	count := m.durationCount.Load()
	total := m.durationTotal.Load()
	max := m.durationMax.Load()

	var avg time.Duration

	if count > 0 {
		avg = time.Duration(total / int64(count))
	}

	return ExecutionMetricsSnapshot{
		Claimed:         m.claimed.Load(),
		Completed:       m.completed.Load(),
		Failed:          m.failed.Load(),
		Retried:         m.retried.Load(),
		DeadLettered:    m.deadLettered.Load(),
		DurationCount:   count,
		AverageDuration: avg,
		MaxDuration:     time.Duration(max),
	}
}
