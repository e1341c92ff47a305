package prewarm

// WorkerStats is a point-in-time snapshot of one slot's health, derived from
// the pool's state under the slot lock. It is a read, not persisted state.
type WorkerStats struct {
	// WorkerID is the slot index, 0..PoolSize-1.
	WorkerID int

	// RestartCount is the cumulative number of crash-triggered restarts
	// recorded for the slot. Monotonically non-decreasing, never reset.
	RestartCount uint32

	// LastCrashReason is the most recently recorded crash reason, empty if
	// the slot has never crashed.
	LastCrashReason string

	// State is the slot state at snapshot time.
	State WorkerState
}

// Stats returns exactly PoolSize records, one per slot index in order,
// regardless of slot health. The snapshot is taken under the slot lock, so
// the records are mutually consistent, but they may be stale by the time the
// caller inspects them.
func (p *Pool) Stats() []WorkerStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make([]WorkerStats, len(p.workers))
	for i, w := range p.workers {
		reason, _ := w.LastCrashReason()
		stats[i] = WorkerStats{
			WorkerID:        i,
			RestartCount:    w.RestartCount(),
			LastCrashReason: reason,
			State:           w.State(),
		}
	}
	return stats
}
