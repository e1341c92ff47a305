package prewarm

import (
	"fmt"
	"log/slog"
	"sync"
)

// Pool manages a fixed-size collection of pre-warmed worker processes that
// execute short-lived tests with minimal per-test startup cost. It survives
// individual worker crashes and hangs through a budgeted terminate-then-respawn
// cycle without corrupting the overall run.
//
// It is safe for concurrent use by multiple goroutines.
//
// Scalability note: mu guards the whole slot
// collection and is held for the full duration of Execute. While one test
// runs, no other acquire, release, or execute can proceed pool-wide. The lock
// is released only during the fixed restart delay inside crash recovery, so a
// crashed worker's backoff never blocks the rest of the pool.
type Pool struct {
	cfg Config

	// mu protects workers' state transitions, available, and shutdown.
	mu sync.Mutex

	// workers holds one slot per index, 0..PoolSize-1. The slice itself is
	// immutable after construction: slots are never added, removed, or
	// reordered, only transitioned in place.
	workers []Worker

	// available counts slots currently Idle. It duplicates information
	// derivable from the slots and is kept consistent by convention: every
	// transition that changes a slot's Idle-ness updates it inside the same
	// critical section. See the invariant tests for coverage.
	available int

	// recovering marks slots whose budgeted recovery is inside its restart
	// delay, where the lock is released. A second recovery report for such a
	// slot is treated as already handled instead of charging the budget
	// twice and double-incrementing available.
	recovering []bool

	// shutdown is set by Shutdown and never cleared. Acquire and Enqueue
	// check it first for fail-fast behavior; in-flight executions are not
	// interrupted.
	shutdown bool

	// queue is the bounded FIFO backlog of pending tests, capacity
	// PoolSize × queueCapacityPerWorker. Enqueue fails immediately when it
	// is full rather than blocking the producer.
	queue chan TestCase

	log *slog.Logger
}

// NewPool validates cfg, creates one worker per slot via factory, and spawns
// them all synchronously in index order. Construction is all-or-nothing: if
// any spawn fails, the workers spawned so far are terminated best-effort and
// the error is returned — no partial pool is ever retained.
func NewPool(cfg Config, factory WorkerFactory) (*Pool, error) {
	if factory == nil {
		return nil, fmt.Errorf("new pool: worker factory must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new pool: invalid config: %w", err)
	}

	p := &Pool{
		cfg:        cfg,
		workers:    make([]Worker, 0, cfg.PoolSize),
		recovering: make([]bool, cfg.PoolSize),
		queue:      make(chan TestCase, cfg.PoolSize*queueCapacityPerWorker),
		log:        Logger(),
	}

	for i := 0; i < cfg.PoolSize; i++ {
		w := factory(i)
		if err := w.Spawn(cfg); err != nil {
			for j, spawned := range p.workers {
				if termErr := spawned.Terminate(); termErr != nil {
					p.log.Warn("terminate worker during construction rollback",
						"worker", j, "error", termErr)
				}
			}
			return nil, fmt.Errorf("spawn worker %d: %w", i, err)
		}
		w.MarkIdle()
		p.workers = append(p.workers, w)
	}
	p.available = cfg.PoolSize

	p.log.Debug("pool started", "workers", cfg.PoolSize, "queue_capacity", cap(p.queue))
	return p, nil
}

// Size returns the fixed number of worker slots.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Available returns the number of slots currently Idle.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// Acquire returns the index of an Idle worker, marking it Busy. Slots are
// scanned in index order and the lowest-index Idle slot always wins; there is
// no fairness or round-robin guarantee.
//
// Returns ErrShuttingDown if Shutdown has been called, and
// ErrNoWorkerAvailable if every slot is Busy or Crashed. Resource exhaustion
// is never retried internally: callers must release a worker or poll.
func (p *Pool) Acquire() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown {
		return 0, fmt.Errorf("acquire worker: %w", ErrShuttingDown)
	}

	for i, w := range p.workers {
		if w.IsAvailable() {
			w.MarkBusy()
			p.available--
			return i, nil
		}
	}

	return 0, fmt.Errorf("acquire worker: %w", ErrNoWorkerAvailable)
}

// Release marks the slot Idle again and increments the available counter.
//
// An out-of-range id fails with a *CrashError; see the CrashError docs for
// the conditions that reuse this kind.
// Release performs no state validation beyond the range check: releasing a
// slot that was never acquired is a caller bug the pool does not detect.
func (p *Pool) Release(id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id < 0 || id >= len(p.workers) {
		return &CrashError{WorkerID: id, Reason: "worker id out of range"}
	}

	p.workers[id].MarkIdle()
	p.available++
	return nil
}

// Execute runs one test on the given worker with the configured per-test
// timeout. The slot lock is held for the entire call — see the Pool doc for
// why this serializes all pool activity while a test runs.
//
// The error contract follows Worker.ExecuteTest: *CrashError for a worker
// crash, *TimeoutError when the timeout elapses, anything else unchanged.
// Execute itself performs no recovery; see ExecuteWithRecovery.
func (p *Pool) Execute(id int, tc TestCase) (TestResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id < 0 || id >= len(p.workers) {
		return TestResult{}, &CrashError{WorkerID: id, Reason: "worker id out of range"}
	}

	return p.workers[id].ExecuteTest(tc, p.cfg.TestTimeout)
}

// Ping delegates to the worker's own ping with a fixed 5-second timeout.
// An out-of-range id returns false rather than erroring.
//
// Ping does not take the slot lock: the workers slice is immutable after
// construction and Worker implementations must make Ping safe for concurrent
// use, so a slow ping never blocks the pool.
func (p *Pool) Ping(id int) bool {
	if id < 0 || id >= len(p.workers) {
		return false
	}
	return p.workers[id].Ping(pingTimeout)
}

// Enqueue adds a test to the bounded backlog without blocking. It fails with
// ErrShuttingDown after Shutdown, and with a *CrashError (WorkerID -1) when
// the queue is full — backpressure surfaces immediately instead of blocking
// the producer. A full queue reuses the crash error kind; see CrashError.
func (p *Pool) Enqueue(tc TestCase) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return fmt.Errorf("queue test: %w", ErrShuttingDown)
	}
	p.mu.Unlock()

	select {
	case p.queue <- tc:
		return nil
	default:
		return &CrashError{WorkerID: -1, Reason: fmt.Sprintf("test queue is full (capacity %d)", cap(p.queue))}
	}
}

// Dequeue removes and returns the oldest queued test, or false if the queue
// is empty. Strictly FIFO, never blocks.
func (p *Pool) Dequeue() (TestCase, bool) {
	select {
	case tc := <-p.queue:
		return tc, true
	default:
		return nil, false
	}
}

// QueueLen returns the number of tests currently waiting in the backlog.
func (p *Pool) QueueLen() int {
	return len(p.queue)
}

// Shutdown flips the shutdown flag (idempotently — the flag never resets) and
// attempts to terminate every slot regardless of individual failures. It does
// not interrupt in-flight executions: it races with any caller mid-call and
// only prevents new acquisitions and enqueues.
//
// Returns a *ShutdownError naming the number of failed terminations if any
// Terminate failed, otherwise nil. Shutdown is safe to call multiple times;
// each call re-attempts termination of every slot.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.shutdown = true

	failed := 0
	for i, w := range p.workers {
		if err := w.Terminate(); err != nil {
			failed++
			p.log.Warn("terminate worker during shutdown", "worker", i, "error", err)
		}
	}

	if failed > 0 {
		return &ShutdownError{Failed: failed}
	}
	return nil
}

// stateOf returns the current state of the slot. Used by the Runner to decide
// whether a slot still needs releasing after ExecuteWithRecovery (a successful
// recovery returns the slot to Idle itself).
func (p *Pool) stateOf(id int) WorkerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers[id].State()
}
