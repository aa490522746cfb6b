package workflow

import (
	"sync/atomic"
	"time"
)

// PoolMetrics counts research tasks across all runs of a pool
type PoolMetrics struct {
	tasksSubmitted atomic.Int64
	tasksActive    atomic.Int64
	tasksCompleted atomic.Int64
	tasksFailed    atomic.Int64

	totalTaskDuration  atomic.Int64 // nanoseconds
	lastCompletionTime atomic.Int64 // unix nanoseconds
}

// PoolStats is a point-in-time copy of PoolMetrics
type PoolStats struct {
	Submitted       int64     `json:"submitted"`
	Active          int64     `json:"active"`
	Completed       int64     `json:"completed"`
	Failed          int64     `json:"failed"`
	AvgTaskDuration float64   `json:"avg_task_duration_seconds"`
	LastCompletion  time.Time `json:"last_completion"`
}

func (m *PoolMetrics) taskSubmitted() {
	m.tasksSubmitted.Add(1)
}

func (m *PoolMetrics) taskStarted() {
	m.tasksActive.Add(1)
}

func (m *PoolMetrics) taskFinished(duration time.Duration, failed bool) {
	m.tasksActive.Add(-1)
	if failed {
		m.tasksFailed.Add(1)
	} else {
		m.tasksCompleted.Add(1)
	}
	m.totalTaskDuration.Add(int64(duration))
	m.lastCompletionTime.Store(time.Now().UnixNano())
}

// Snapshot returns the current counters
func (m *PoolMetrics) Snapshot() PoolStats {
	stats := PoolStats{
		Submitted: m.tasksSubmitted.Load(),
		Active:    m.tasksActive.Load(),
		Completed: m.tasksCompleted.Load(),
		Failed:    m.tasksFailed.Load(),
	}
	if finished := stats.Completed + stats.Failed; finished > 0 {
		stats.AvgTaskDuration = time.Duration(m.totalTaskDuration.Load() / finished).Seconds()
	}
	if ns := m.lastCompletionTime.Load(); ns != 0 {
		stats.LastCompletion = time.Unix(0, ns)
	}
	return stats
}
