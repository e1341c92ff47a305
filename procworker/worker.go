package procworker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stackbound/prewarm"
	"github.com/stackbound/prewarm/internal/fileutil"
	"github.com/stackbound/prewarm/internal/proc"
)

// Compile-time check: Worker must satisfy the pool's worker contract.
var _ prewarm.Worker = (*Worker)(nil)

// ExecFunc runs one test against a spawned worker process. The pool never
// specifies the wire protocol between runner and interpreter; callers supply
// it here. The context carries the per-test timeout — implementations must
// return context.DeadlineExceeded (possibly wrapped) when it expires, which
// the Worker converts into a *prewarm.TimeoutError.
type ExecFunc func(ctx context.Context, w *Worker, tc prewarm.TestCase) (prewarm.TestResult, error)

// PingFunc checks process responsiveness within the context deadline.
// When nil, Ping falls back to an OS-level liveness check.
type PingFunc func(ctx context.Context, w *Worker) bool

// Worker is the OS-process implementation of the pool's worker contract. It
// pre-warms one interpreter process (spawned with a --preload flag per
// configured module) and keeps the crash bookkeeping the pool's recovery
// logic depends on.
//
// Synchronization strategy:
//   - state, restarts, and lastCrash use atomics: the pool reads them both
//     under and outside its slot lock (Ping, Stats, health checks).
//   - handle is only touched under procMu, serializing Spawn and Terminate
//     against each other. ExecuteTest and IsProcessAlive take a snapshot of
//     the handle under procMu and then operate lock-free on it.
type Worker struct {
	index   int
	dataDir string
	extra   []string
	execFn  ExecFunc
	pingFn  PingFunc
	stopTO  time.Duration
	log     *slog.Logger

	state     atomic.Int32
	restarts  atomic.Uint32
	lastCrash atomic.Pointer[string]

	procMu sync.Mutex
	handle *proc.Handle
}

// Option configures workers produced by Factory.
type Option func(*Worker)

// WithLogger sets the logger for all workers from this factory.
// Defaults to prewarm.Logger().
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		w.log = l
	}
}

// WithArgs appends extra command-line arguments after the generated
// --preload flags.
func WithArgs(args ...string) Option {
	return func(w *Worker) {
		w.extra = append(w.extra, args...)
	}
}

// WithStopTimeout sets the graceful-stop timeout used by Terminate.
// Defaults to proc.DefaultStopTimeout.
func WithStopTimeout(d time.Duration) Option {
	return func(w *Worker) {
		w.stopTO = d
	}
}

// WithPingFunc sets a protocol-level ping. Without one, Ping only checks
// that the OS process is alive.
func WithPingFunc(fn PingFunc) Option {
	return func(w *Worker) {
		w.pingFn = fn
	}
}

// Factory returns a prewarm.WorkerFactory producing process-backed workers.
// Each worker gets its own data directory under baseDir (worker-0, worker-1,
// ...) holding the process's stdout/stderr logs. execFn supplies the
// test-execution protocol; it must not be nil.
func Factory(baseDir string, execFn ExecFunc, opts ...Option) prewarm.WorkerFactory {
	if execFn == nil {
		panic("procworker: Factory execFn must not be nil")
	}
	return func(index int) prewarm.Worker {
		w := &Worker{
			index:   index,
			dataDir: filepath.Join(baseDir, fmt.Sprintf("worker-%d", index)),
			execFn:  execFn,
			stopTO:  proc.DefaultStopTimeout,
		}
		for _, opt := range opts {
			opt(w)
		}
		if w.log == nil {
			w.log = prewarm.Logger()
		}
		w.log = w.log.With("worker", index)
		return w
	}
}

// Index returns the slot index this worker was created for.
func (w *Worker) Index() int {
	return w.index
}

// DataDir returns the worker's data directory (process logs live here).
func (w *Worker) DataDir() string {
	return w.dataDir
}

// Spawn launches the worker process: cfg.ExecPath with one "--preload <m>"
// pair per configured module, followed by any extra factory arguments, run
// from the worker's data directory. Idempotent while the process is alive.
func (w *Worker) Spawn(cfg prewarm.Config) error {
	w.procMu.Lock()
	defer w.procMu.Unlock()

	if w.handle != nil && w.handle.Alive() {
		return nil
	}

	if err := fileutil.EnsureDir(w.dataDir); err != nil {
		return fmt.Errorf("prepare worker dir: %w", err)
	}

	args := make([]string, 0, 2*len(cfg.PreloadModules)+len(w.extra))
	for _, m := range cfg.PreloadModules {
		args = append(args, "--preload", m)
	}
	args = append(args, w.extra...)

	cmd := exec.Command(cfg.ExecPath, args...)
	cmd.Dir = w.dataDir

	h, err := proc.Start(cmd, w.dataDir, fmt.Sprintf("worker-%d", w.index))
	if err != nil {
		return fmt.Errorf("spawn worker %d: %w", w.index, err)
	}

	w.handle = h
	w.state.Store(int32(prewarm.StateIdle))
	w.log.Debug("worker process spawned", "pid", h.Pid(), "preload", len(cfg.PreloadModules))
	return nil
}

// ExecuteTest runs one test through the configured ExecFunc, bounded by
// timeout. Per the pool's error contract it returns a *prewarm.TimeoutError
// when the deadline expires and a *prewarm.CrashError when the process is
// found dead (before the call, or as the cause of the ExecFunc failure).
func (w *Worker) ExecuteTest(tc prewarm.TestCase, timeout time.Duration) (prewarm.TestResult, error) {
	h := w.snapshotHandle()
	if h == nil || !h.Alive() {
		return prewarm.TestResult{}, &prewarm.CrashError{
			WorkerID: w.index,
			Reason:   "worker process not running",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	res, err := w.execFn(ctx, w, tc)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return prewarm.TestResult{}, &prewarm.TimeoutError{Duration: timeout}
		}
		if !h.Alive() {
			return prewarm.TestResult{}, &prewarm.CrashError{
				WorkerID: w.index,
				Reason:   err.Error(),
			}
		}
		return res, err
	}

	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	return res, nil
}

// Terminate stops the worker process with the configured stop timeout.
// Idempotent: terminating a worker that was never spawned, or twice, is a
// no-op.
func (w *Worker) Terminate() error {
	w.procMu.Lock()
	defer w.procMu.Unlock()

	if w.handle == nil {
		return nil
	}
	h := w.handle
	w.handle = nil

	if err := h.Stop(w.stopTO); err != nil {
		return fmt.Errorf("terminate worker %d: %w", w.index, err)
	}
	return nil
}

// IsProcessAlive reports whether the underlying OS process is running.
func (w *Worker) IsProcessAlive() bool {
	h := w.snapshotHandle()
	return h != nil && h.Alive()
}

// Ping checks responsiveness within timeout: the protocol-level PingFunc when
// configured, otherwise an OS-level liveness check.
func (w *Worker) Ping(timeout time.Duration) bool {
	if w.pingFn == nil {
		return w.IsProcessAlive()
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return w.pingFn(ctx, w)
}

// IsAvailable reports whether the slot is Idle.
func (w *Worker) IsAvailable() bool {
	return w.State() == prewarm.StateIdle
}

// MarkBusy transitions the slot to Busy.
func (w *Worker) MarkBusy() {
	w.state.Store(int32(prewarm.StateBusy))
}

// MarkIdle transitions the slot to Idle.
func (w *Worker) MarkIdle() {
	w.state.Store(int32(prewarm.StateIdle))
}

// MarkCrashed transitions the slot to Crashed.
func (w *Worker) MarkCrashed() {
	w.state.Store(int32(prewarm.StateCrashed))
}

// State returns the current slot state.
func (w *Worker) State() prewarm.WorkerState {
	return prewarm.WorkerState(w.state.Load())
}

// RecordCrash increments the cumulative restart counter and stores the reason.
// The counter never resets for the lifetime of the slot.
func (w *Worker) RecordCrash(reason string) {
	w.restarts.Add(1)
	w.lastCrash.Store(&reason)
	w.log.Warn("worker crash recorded", "reason", reason, "restarts", w.restarts.Load())
}

// RestartCount returns the cumulative number of recorded crashes.
func (w *Worker) RestartCount() uint32 {
	return w.restarts.Load()
}

// LastCrashReason returns the most recent crash reason, and false if the
// worker has never crashed.
func (w *Worker) LastCrashReason() (string, bool) {
	if p := w.lastCrash.Load(); p != nil {
		return *p, true
	}
	return "", false
}

// snapshotHandle returns the current process handle under procMu.
func (w *Worker) snapshotHandle() *proc.Handle {
	w.procMu.Lock()
	defer w.procMu.Unlock()
	return w.handle
}
