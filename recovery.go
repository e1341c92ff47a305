package prewarm

import (
	"errors"
	"fmt"
	"time"
)

// ExecuteWithRecovery runs one test like Execute, but intercepts worker
// crashes and timeouts and restarts the affected worker in place, subject to
// the restart budget.
//
// Outcomes:
//
//   - Success: the worker's result is returned unchanged; the slot stays Busy
//     and the caller releases it as usual.
//   - Crash (*CrashError) or timeout (*TimeoutError): the budgeted recovery
//     path runs. If recovery succeeds, a synthetic StatusError result naming
//     the worker and crash reason is returned with a nil error — the original
//     test is reported as failed, never silently re-executed — and the slot
//     has already been returned to Idle; the caller must not release it again.
//   - Recovery failure (budget exceeded or respawn failed): the error is
//     returned and the slot stays Crashed.
//   - Any other error kind propagates unchanged with the slot untouched.
//
// A timeout is converted into a synthetic crash reason ("timed out after …")
// and then follows the identical recovery path, because the only way to abort
// a stuck worker is to kill and respawn its process.
func (p *Pool) ExecuteWithRecovery(id int, tc TestCase) (TestResult, error) {
	res, err := p.Execute(id, tc)
	if err == nil {
		return res, nil
	}
	if id < 0 || id >= len(p.workers) {
		// Range errors share the crash kind; they must not reach the
		// recovery path, which would respawn a nonexistent slot.
		return res, err
	}

	var reason string
	var crashErr *CrashError
	var timeoutErr *TimeoutError
	switch {
	case errors.As(err, &crashErr):
		reason = crashErr.Reason
	case errors.As(err, &timeoutErr):
		reason = fmt.Sprintf("timed out after %s", timeoutErr.Duration)
	default:
		return res, err
	}

	if recErr := p.recoverWithBudget(id, reason); recErr != nil {
		return TestResult{}, recErr
	}

	return TestResult{
		TestID:   tc.ID(),
		FullName: tc.FullName(),
		Status:   StatusError,
		Message:  fmt.Sprintf("worker %d crashed while running %s: %s", id, tc.FullName(), reason),
	}, nil
}

// recoverWithBudget records the crash on the slot and performs the budgeted
// terminate-then-respawn cycle.
//
// The crash is recorded first: the cumulative restart count increments and the
// reason is stored, then the slot transitions to Crashed. If the new count
// exceeds MaxRestartAttempts the slot is left permanently Crashed and a
// *CrashError is returned — no further automatic restart will ever be
// attempted for it, and the pool never replaces a slot with a fresh index.
//
// Otherwise the slot's process is terminated best-effort (termination failure
// is ignored; the respawn is what matters), the slot lock is released for the
// fixed RestartDelay so the rest of the pool keeps moving during the backoff,
// and the worker is respawned. On respawn success the slot becomes Idle again
// and the available counter increments; on respawn failure the returned error
// embeds both the spawn failure and the original crash reason.
//
// The lock-released delay window has two hazards, both handled after the lock
// is reacquired: a concurrent crash report for the same slot (the recovery's
// own terminate makes the process look dead to health checks) must not charge
// the budget twice or double-increment available, which the recovering flag
// prevents; and a Shutdown completing inside the window must not be followed
// by a respawn nothing will ever terminate, so the shutdown flag is re-checked
// and the slot left Crashed.
func (p *Pool) recoverWithBudget(id int, reason string) error {
	p.mu.Lock()

	if id < 0 || id >= len(p.workers) {
		p.mu.Unlock()
		return &CrashError{WorkerID: id, Reason: "worker id out of range"}
	}

	if p.recovering[id] {
		// Another recovery owns this slot and is inside its delay window;
		// the report is already being handled.
		p.mu.Unlock()
		return nil
	}

	w := p.workers[id]
	w.RecordCrash(reason)
	if w.IsAvailable() {
		// Crash detected on an Idle slot (health-check path): the slot is
		// about to leave Idle, so the counter must move in the same critical
		// section to preserve the available == idle-count invariant.
		p.available--
	}
	w.MarkCrashed()

	count := w.RestartCount()
	if count > p.cfg.MaxRestartAttempts {
		p.mu.Unlock()
		p.log.Warn("worker exceeded restart budget, leaving permanently crashed",
			"worker", id, "restarts", count, "budget", p.cfg.MaxRestartAttempts, "reason", reason)
		return fmt.Errorf("worker %d exceeded restart budget (%d restarts, budget %d): %w",
			id, count, p.cfg.MaxRestartAttempts,
			&CrashError{WorkerID: id, Reason: reason})
	}

	if err := w.Terminate(); err != nil {
		p.log.Debug("terminate crashed worker", "worker", id, "error", err)
	}

	// Drop the lock for the backoff window so acquire/release/execute on
	// other slots are not blocked while this worker cools down. The slot is
	// Crashed for the whole window, so nothing else can hand it out, and the
	// recovering flag keeps concurrent crash reports from re-entering.
	p.recovering[id] = true
	p.mu.Unlock()
	time.Sleep(p.cfg.RestartDelay)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recovering[id] = false

	if p.shutdown {
		return fmt.Errorf("respawn worker %d after crash (%s): %w", id, reason, ErrShuttingDown)
	}
	if w.State() != StateCrashed {
		// The slot was brought back during the delay window (unconditional
		// RecoverWorker); its state and the counter are already consistent.
		return nil
	}

	if err := w.Spawn(p.cfg); err != nil {
		return fmt.Errorf("respawn worker %d after crash (%s): %w", id, reason, err)
	}

	w.MarkIdle()
	p.available++
	p.log.Info("worker recovered after crash",
		"worker", id, "restarts", count, "reason", reason)
	return nil
}

// RecoverWorker is the unconditional restart variant, used outside the
// budget-checked path (operator intervention, warm restarts between suites).
// It marks the slot Crashed, terminates best-effort, respawns without
// consulting the restart budget or recording a crash, and returns the slot to
// Idle. Unlike recoverWithBudget it applies no restart delay, so the whole
// cycle runs in one critical section.
func (p *Pool) RecoverWorker(id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id < 0 || id >= len(p.workers) {
		return &CrashError{WorkerID: id, Reason: "worker id out of range"}
	}

	w := p.workers[id]
	if w.IsAvailable() {
		p.available--
	}
	w.MarkCrashed()

	if err := w.Terminate(); err != nil {
		p.log.Debug("terminate worker before unconditional respawn", "worker", id, "error", err)
	}

	if err := w.Spawn(p.cfg); err != nil {
		return fmt.Errorf("respawn worker %d: %w", id, err)
	}

	w.MarkIdle()
	p.available++
	return nil
}

// EnsureHealthy verifies the worker's process is alive and, if not, routes it
// through the budgeted restart path with a derived crash reason: the worker's
// last recorded one, or a default message when it never recorded a crash.
func (p *Pool) EnsureHealthy(id int) error {
	if id < 0 || id >= len(p.workers) {
		return &CrashError{WorkerID: id, Reason: "worker id out of range"}
	}

	w := p.workers[id]
	if w.IsProcessAlive() {
		return nil
	}

	reason, ok := w.LastCrashReason()
	if !ok {
		reason = "worker process not alive"
	}
	return p.recoverWithBudget(id, reason)
}
