package proc

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// DefaultStopTimeout is the fallback timeout for stopping a process when the
// caller does not configure one.
const DefaultStopTimeout = 10 * time.Second

// termGracePeriod is the maximum time to wait for a process to exit after
// SIGTERM before escalating to SIGKILL. The effective grace period is capped
// at the overall stop timeout.
const termGracePeriod = 5 * time.Second

// killDrainTimeout is the hard upper bound for waiting on process exit after
// SIGKILL has been sent. SIGKILL cannot be caught, so the process should exit
// almost immediately; this is a safety net against cmd.Wait never returning.
const killDrainTimeout = 10 * time.Second

// Handle supervises one started OS process. It owns the single cmd.Wait call:
// a goroutine started by Start waits on the process, records the exit error,
// and closes the exited channel. All liveness checks read that channel instead
// of racing a second Wait.
type Handle struct {
	name string
	cmd  *exec.Cmd
	logs LogFiles

	// exited is closed after cmd.Wait returns. waitErr is written before the
	// close, so any reader that observes the closed channel also sees the
	// exit error (happens-before via channel close).
	exited  chan struct{}
	waitErr error
}

// Start launches cmd with its stdout and stderr redirected to per-process log
// files under dataDir, and begins waiting on it. On failure the log files are
// closed before returning. The name labels log files and error messages.
func Start(cmd *exec.Cmd, dataDir, name string) (*Handle, error) {
	logs, err := NewLogFiles(dataDir, name)
	if err != nil {
		return nil, fmt.Errorf("create %s logs: %w", name, err)
	}

	cmd.Stdout = logs.stdout
	cmd.Stderr = logs.stderr

	if err := cmd.Start(); err != nil {
		logs.Close()
		return nil, fmt.Errorf("start %s process: %w", name, err)
	}

	h := &Handle{
		name:   name,
		cmd:    cmd,
		logs:   logs,
		exited: make(chan struct{}),
	}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.exited)
	}()

	return h, nil
}

// Alive reports whether the process is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.exited:
		return false
	default:
		return true
	}
}

// Pid returns the OS process id.
func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

// Logs returns the process's log file paths.
func (h *Handle) Logs() LogFiles {
	return h.logs
}

// Exited returns a channel that is closed once the process has exited.
func (h *Handle) Exited() <-chan struct{} {
	return h.exited
}

// Stop shuts the process down with a SIGTERM-then-SIGKILL sequence:
//
//  1. Send SIGTERM for graceful shutdown.
//  2. Schedule SIGKILL after a grace period (canceled if the process exits
//     first). The grace period is clamped to timeout so the kill always fires
//     while the overall timer is still running.
//  3. Wait for process exit or the total timeout.
//
// Exits caused by SIGTERM or SIGKILL count as successful stops. Stop is
// idempotent: calling it on an already-exited process only drains the exit
// status and closes the log files.
//
// Worst-case blocking duration is timeout + killDrainTimeout, hit when the
// main timeout expires and the post-SIGKILL drain also runs its full length.
func (h *Handle) Stop(timeout time.Duration) error {
	defer h.logs.Close()

	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	if !h.Alive() {
		return h.signalExit(h.waitErr)
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// The process exited between the Alive check and the signal; drain
		// the wait goroutine with a hard upper bound.
		if !h.waitExit(killDrainTimeout) {
			return fmt.Errorf("%s: timed out draining process after signal failure", h.name)
		}
		return h.signalExit(h.waitErr)
	}

	grace := min(termGracePeriod, timeout)
	killTimer := time.AfterFunc(grace, func() {
		// Kill on an already-finished process returns a harmless
		// "process already finished" error, intentionally discarded.
		_ = h.cmd.Process.Kill()
	})
	defer killTimer.Stop()

	if h.waitExit(timeout) {
		return h.signalExit(h.waitErr)
	}

	// Total timeout expired; SIGKILL has fired by now (grace ≤ timeout).
	if !h.waitExit(killDrainTimeout) {
		return fmt.Errorf("%s: timed out waiting for process to exit after SIGKILL", h.name)
	}
	if err := h.signalExit(h.waitErr); err != nil {
		return fmt.Errorf("%s stop timeout: %w", h.name, err)
	}
	return nil
}

// waitExit waits up to timeout for the process to exit. Returns false if the
// timeout elapsed first.
func (h *Handle) waitExit(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-h.exited:
		return true
	case <-t.C:
		return false
	}
}

// signalExit interprets an error from cmd.Wait after a termination signal.
// Exit statuses caused by SIGTERM or SIGKILL are expected and treated as
// successful stops.
func (h *Handle) signalExit(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if sig := status.Signal(); sig == syscall.SIGTERM || sig == syscall.SIGKILL {
				return nil
			}
		}
	}
	return fmt.Errorf("%s: %w", h.name, err)
}
