package prewarm

import (
	"fmt"
	"time"
)

// WorkerState describes the lifecycle state of a single pool slot.
//
// The state machine per slot is:
//
//	Idle → (acquire) → Busy → (release) → Idle
//	Busy → (crash or timeout detected) → Crashed
//	Crashed → (terminate + respawn succeeds, budget not exceeded) → Idle
//	Crashed → (respawn fails, budget remains) → Crashed
//	Crashed → (budget exceeded) → permanently Crashed
//
// Once a slot's cumulative restart count exceeds the configured budget, no
// transition leads back to Idle for that slot.
type WorkerState int32

const (
	// StateIdle means the worker process is warm and available for acquisition.
	StateIdle WorkerState = iota

	// StateBusy means the worker has been acquired and may be executing a test.
	StateBusy

	// StateCrashed means the worker's process has crashed or been killed. The
	// slot stays Crashed until a respawn succeeds, or permanently once the
	// restart budget is exceeded.
	StateCrashed
)

// IsValid reports whether s is a recognized WorkerState value.
func (s WorkerState) IsValid() bool {
	switch s {
	case StateIdle, StateBusy, StateCrashed:
		return true
	default:
		return false
	}
}

// String returns the name of the state.
func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateBusy:
		return "Busy"
	case StateCrashed:
		return "Crashed"
	default:
		return fmt.Sprintf("WorkerState(%d)", int32(s))
	}
}

// TestCase is the opaque unit of work the pool schedules. The pool never
// inspects a test beyond its identity; FullName exists purely for diagnostics
// (log lines, synthetic failure messages, journal rows).
type TestCase interface {
	// ID returns a stable identifier for the test.
	ID() string

	// FullName returns a human-readable name for diagnostics.
	FullName() string
}

// TestStatus is the outcome classification of an executed test.
type TestStatus int

const (
	// StatusPassed means the test ran to completion and succeeded.
	StatusPassed TestStatus = iota

	// StatusFailed means the test ran to completion and reported a failure.
	StatusFailed

	// StatusError means the test could not run to completion. Results
	// synthesized after crash recovery carry this status together with a
	// Message naming the worker and crash reason.
	StatusError
)

// String returns the name of the status.
func (s TestStatus) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("TestStatus(%d)", int(s))
	}
}

// TestResult is the outcome record produced for one executed test.
type TestResult struct {
	// TestID and FullName identify the test; see TestCase.
	TestID   string
	FullName string

	// Status classifies the outcome. Message carries the failure or error
	// explanation when Status is not StatusPassed.
	Status  TestStatus
	Message string

	// Duration is the wall-clock execution time.
	Duration time.Duration

	// Stdout and Stderr hold output captured from the worker while the test ran.
	Stdout string
	Stderr string

	// Traceback is an optional stack trace reported for failures and errors.
	Traceback string

	// AssertsPassed and AssertsFailed are assertion counters reported by the
	// test, when the worker's protocol provides them.
	AssertsPassed uint32
	AssertsFailed uint32
}

// Worker is the contract the pool requires from a pre-warmed process handle.
// The pool depends only on this interface, so alternate process or sandbox
// backends can be swapped in without touching the recovery logic. The
// procworker subpackage provides the default OS-process implementation.
//
// All methods are called synchronously from the pool's point of view. State
// transitions (MarkBusy, MarkIdle, MarkCrashed) and the crash bookkeeping
// (RecordCrash) are invoked while the pool holds its slot lock; implementations
// still must be safe for concurrent use because IsProcessAlive and Ping may be
// called without it.
//
// Error contract for ExecuteTest: a worker process crash must surface as a
// *CrashError carrying the crash reason, and exceeding the timeout must
// surface as a *TimeoutError. Any other error is propagated to callers
// unchanged, bypassing crash recovery.
type Worker interface {
	// Spawn launches (or relaunches) the underlying process using the pool's
	// configuration. It must be idempotent when the process is already running.
	Spawn(cfg Config) error

	// IsAvailable reports whether the slot is Idle.
	IsAvailable() bool

	// MarkBusy, MarkIdle and MarkCrashed transition the slot state. The pool
	// keeps its available-worker counter consistent with these transitions;
	// implementations must not transition state on their own outside Spawn.
	MarkBusy()
	MarkIdle()
	MarkCrashed()

	// State returns the current slot state.
	State() WorkerState

	// ExecuteTest runs one test on the warm process, bounded by timeout.
	// See the interface documentation for the error contract.
	ExecuteTest(tc TestCase, timeout time.Duration) (TestResult, error)

	// Terminate stops the underlying process. Best-effort callers ignore the
	// returned error. Must be idempotent.
	Terminate() error

	// IsProcessAlive reports whether the underlying OS process is running.
	IsProcessAlive() bool

	// Ping checks responsiveness of the process within the given timeout.
	Ping(timeout time.Duration) bool

	// RecordCrash increments the cumulative restart counter and stores the
	// crash reason. The counter is monotonically non-decreasing and is never
	// reset for the lifetime of the slot.
	RecordCrash(reason string)

	// RestartCount returns the cumulative number of recorded crashes.
	RestartCount() uint32

	// LastCrashReason returns the most recently recorded crash reason, and
	// false if the worker has never crashed.
	LastCrashReason() (string, bool)
}

// WorkerFactory creates the Worker for the given pool slot index. The factory
// encapsulates backend construction details (data directories, executors,
// loggers), keeping the pool decoupled from any concrete worker type. Slot
// indices are assigned in order, 0 through PoolSize-1, and never reused for a
// different worker.
type WorkerFactory func(index int) Worker
