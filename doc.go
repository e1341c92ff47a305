// Package prewarm manages a fixed-size pool of pre-warmed worker processes
// that execute short-lived tests with minimal per-test startup cost, surviving
// individual worker crashes and hangs without corrupting the overall run.
//
// The pool owns an indexed collection of workers behind a single lock, an
// available-worker counter, a shutdown flag, and a bounded FIFO backlog of
// pending tests. Crashes and timeouts are intercepted by the recovery-wrapped
// entry point, which restarts the affected worker in place — subject to a
// per-slot restart budget — before returning a synthetic failure result to
// the caller. The test is always reported as failed with the worker id and
// crash reason; it is never silently re-executed.
//
// # Basic Usage
//
//	cfg := prewarm.DefaultConfig().
//	    WithExecPath("/usr/bin/python3").
//	    WithPreloadModules("json", "unittest").
//	    WithPoolSize(4)
//
//	pool, err := prewarm.NewPool(cfg, procworker.Factory(dataDir, execFn))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Shutdown()
//
//	id, err := pool.Acquire()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := pool.ExecuteWithRecovery(id, tc)
//	// On a nil error with res.Status == prewarm.StatusError the worker
//	// crashed and recovery already returned the slot; otherwise release it:
//	_ = pool.Release(id)
//
// # Queued Execution
//
// Tests can also be enqueued on the pool's bounded backlog and drained
// concurrently by a Runner, which acquires a worker per test, executes through
// the recovery wrapper, and optionally records every outcome to a journal:
//
//	for _, tc := range cases {
//	    if err := pool.Enqueue(tc); err != nil {
//	        break // queue full: backpressure, submit later
//	    }
//	}
//	results, err := prewarm.NewRunner(pool).Run(ctx)
//
// Worker backends are pluggable through the Worker interface; the procworker
// subpackage provides the default OS-process implementation and the journal
// subpackage a SQLite-backed run journal.
package prewarm
