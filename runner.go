package prewarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stackbound/prewarm/journal"
)

const defaultAcquirePollInterval = 10 * time.Millisecond

// Runner drains a pool's backlog, fanning queued tests out across the pool's
// workers with crash recovery applied to every execution. It is the queued
// counterpart to driving Acquire/ExecuteWithRecovery/Release by hand.
type Runner struct {
	pool    *Pool
	journal *journal.Journal
	log     *slog.Logger
	poll    time.Duration
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithJournal makes the runner persist every test result and, at the end of
// the run, every worker crash. The runner does not close the journal.
func WithJournal(j *journal.Journal) RunnerOption {
	return func(r *Runner) {
		r.journal = j
	}
}

// WithAcquirePollInterval sets how long the runner waits between acquisition
// attempts when all workers are busy. Defaults to 10ms.
func WithAcquirePollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.poll = d
	}
}

// NewRunner returns a Runner draining p's queue.
func NewRunner(p *Pool, opts ...RunnerOption) *Runner {
	r := &Runner{
		pool: p,
		log:  Logger(),
		poll: defaultAcquirePollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every test currently queued on the pool and returns their
// results. Order of results is not defined; tests run concurrently, at most
// one per worker slot. Run returns early when ctx is cancelled or when any
// execution fails beyond recovery (a worker exhausting its restart budget
// aborts the run).
//
// Tests enqueued while Run is draining are picked up too; Run returns once
// the queue is observed empty.
func (r *Runner) Run(ctx context.Context) ([]TestResult, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.pool.Size())

	var (
		mu      sync.Mutex
		results []TestResult
	)

	// Cancellation is checked before each Dequeue, never after: a test taken
	// from the queue is always handed to a goroutine, so none is silently
	// dropped. Tests not yet dequeued stay in the queue.
	for gctx.Err() == nil {
		tc, ok := r.pool.Dequeue()
		if !ok {
			break
		}

		g.Go(func() error {
			res, err := r.runOne(gctx, tc)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		// The drain loop stopped early; the remaining tests are still queued.
		return results, err
	}

	if err := r.journalCrashes(ctx); err != nil {
		return results, err
	}
	return results, nil
}

// runOne acquires a worker (polling while the pool is exhausted), executes
// the test with recovery, and releases the slot if the execution left it
// Busy. A successful recovery returns the slot to Idle itself, so the runner
// only releases slots still Busy afterwards.
func (r *Runner) runOne(ctx context.Context, tc TestCase) (TestResult, error) {
	id, err := r.acquire(ctx)
	if err != nil {
		return TestResult{}, err
	}

	res, execErr := r.pool.ExecuteWithRecovery(id, tc)
	if r.pool.stateOf(id) == StateBusy {
		if relErr := r.pool.Release(id); relErr != nil {
			r.log.Warn("release worker after test", "worker", id, "error", relErr)
		}
	}
	if execErr != nil {
		return TestResult{}, fmt.Errorf("run test %q: %w", tc.FullName(), execErr)
	}

	if r.journal != nil {
		if err := r.journal.RecordResult(ctx, journal.TestRecord{
			TestID:        tc.ID(),
			FullName:      res.FullName,
			Status:        res.Status.String(),
			Duration:      res.Duration,
			Stdout:        res.Stdout,
			Stderr:        res.Stderr,
			Traceback:     res.Traceback,
			AssertsPassed: res.AssertsPassed,
			AssertsFailed: res.AssertsFailed,
		}); err != nil {
			return TestResult{}, err
		}
	}
	return res, nil
}

// acquire polls the pool until a worker frees up or ctx expires. Pool
// exhaustion is the only retried condition; shutdown and other errors
// propagate immediately.
func (r *Runner) acquire(ctx context.Context) (int, error) {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		id, err := r.pool.Acquire()
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrNoWorkerAvailable) {
			return 0, err
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// journalCrashes persists one crash record per worker that crashed at least
// once during the run.
func (r *Runner) journalCrashes(ctx context.Context) error {
	if r.journal == nil {
		return nil
	}
	for _, ws := range r.pool.Stats() {
		if ws.RestartCount == 0 {
			continue
		}
		if err := r.journal.RecordCrash(ctx, journal.CrashRecord{
			WorkerID:     ws.WorkerID,
			Reason:       ws.LastCrashReason,
			RestartCount: ws.RestartCount,
		}); err != nil {
			return err
		}
	}
	return nil
}
