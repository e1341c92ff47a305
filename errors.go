package prewarm

import (
	"fmt"
	"time"

	"github.com/stackbound/prewarm/internal/sentinel"
)

// Sentinel errors for error inspection with errors.Is.
// These are immutable constants safe for use in wrapped error chain comparison.
const (
	// ErrNoWorkerAvailable is returned by Acquire when every slot is Busy or
	// Crashed. It is not retried internally: callers must wait and poll.
	ErrNoWorkerAvailable = sentinel.Error("no idle worker available")

	// ErrShuttingDown is returned by Acquire and Enqueue once Shutdown has
	// been called. The shutdown flag only ever goes false→true.
	ErrShuttingDown = sentinel.Error("pool is shut down")

	// ErrWorkerCrashed is the kind underlying every *CrashError. Match it
	// with errors.Is; extract the worker id and reason with errors.As.
	ErrWorkerCrashed = sentinel.Error("worker crashed")

	// ErrExecTimeout is the kind underlying every *TimeoutError.
	ErrExecTimeout = sentinel.Error("test execution timed out")

	// ErrShutdownFailed is the kind underlying every *ShutdownError.
	ErrShutdownFailed = sentinel.Error("shutdown failed to terminate all workers")
)

// CrashError reports that a worker process crashed, carrying the slot index
// and a human-readable reason. It unwraps to ErrWorkerCrashed.
//
// Two unrelated conditions also reuse this kind rather than getting types of
// their own: an out-of-range worker id passed to Release or Execute, and a
// full test queue (WorkerID is -1 in the latter case).
type CrashError struct {
	WorkerID int
	Reason   string
}

// Error implements the error interface.
func (e *CrashError) Error() string {
	return fmt.Sprintf("worker %d crashed: %s", e.WorkerID, e.Reason)
}

// Unwrap returns ErrWorkerCrashed so errors.Is(err, ErrWorkerCrashed) matches.
func (e *CrashError) Unwrap() error {
	return ErrWorkerCrashed
}

// TimeoutError reports that a test exceeded its execution timeout. The pool's
// recovery path treats it identically to a crash, converting the duration into
// a synthetic crash reason. It unwraps to ErrExecTimeout.
type TimeoutError struct {
	Duration time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("test execution timed out after %s", e.Duration)
}

// Unwrap returns ErrExecTimeout so errors.Is(err, ErrExecTimeout) matches.
func (e *TimeoutError) Unwrap() error {
	return ErrExecTimeout
}

// ShutdownError reports that Shutdown could not cleanly terminate every slot,
// naming how many terminations failed. It unwraps to ErrShutdownFailed.
type ShutdownError struct {
	Failed int
}

// Error implements the error interface.
func (e *ShutdownError) Error() string {
	return fmt.Sprintf("shutdown: %d worker(s) failed to terminate", e.Failed)
}

// Unwrap returns ErrShutdownFailed so errors.Is(err, ErrShutdownFailed) matches.
func (e *ShutdownError) Unwrap() error {
	return ErrShutdownFailed
}
