package prewarm

import "time"

// Default configuration values for DefaultConfig.
// These constants are exported so callers can reference the defaults when
// building custom configurations relative to them (e.g., 2*DefaultTestTimeout).
const (
	// DefaultTestTimeout bounds a single test's execution on a worker. A test
	// that exceeds it is treated as a crash and triggers the recovery path.
	DefaultTestTimeout = 60 * time.Second

	// DefaultMaxRestartAttempts is the restart budget: the ceiling on
	// cumulative crash-triggered restarts for one slot over the pool's
	// lifetime. Once a slot's restart count exceeds it, the slot is
	// permanently Crashed.
	DefaultMaxRestartAttempts = 3

	// DefaultRestartDelay is the fixed pause between terminating a crashed
	// worker and respawning it. The delay is deliberately fixed: no
	// exponential growth, no jitter. The pool releases its slot lock for the
	// duration so other operations are not blocked by the backoff window.
	DefaultRestartDelay = 100 * time.Millisecond

	// queueCapacityPerWorker scales the bounded test queue: its capacity is
	// PoolSize × queueCapacityPerWorker. A full queue fails Enqueue
	// immediately rather than blocking the producer.
	queueCapacityPerWorker = 10

	// pingTimeout is the fixed timeout used by Pool.Ping when delegating to
	// the worker's own ping.
	pingTimeout = 5 * time.Second
)
