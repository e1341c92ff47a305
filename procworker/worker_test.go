package procworker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stackbound/prewarm"
)

func testConfig() prewarm.Config {
	return prewarm.DefaultConfig().
		WithPoolSize(1).
		WithExecPath("sleep").
		WithTestTimeout(time.Second)
}

func passExec(ctx context.Context, w *Worker, tc prewarm.TestCase) (prewarm.TestResult, error) {
	return prewarm.TestResult{
		TestID:   tc.ID(),
		FullName: tc.FullName(),
		Status:   prewarm.StatusPassed,
	}, nil
}

func newTestWorker(t *testing.T, execFn ExecFunc, opts ...Option) *Worker {
	t.Helper()

	opts = append([]Option{WithArgs("300")}, opts...)
	factory := Factory(t.TempDir(), execFn, opts...)
	w, ok := factory(0).(*Worker)
	if !ok {
		t.Fatal("factory did not return a *Worker")
	}
	t.Cleanup(func() { _ = w.Terminate() })
	return w
}

type tc struct {
	id   string
	name string
}

func (c tc) ID() string       { return c.id }
func (c tc) FullName() string { return c.name }

func TestSpawnAndTerminate(t *testing.T) {
	t.Parallel()

	w := newTestWorker(t, passExec, WithStopTimeout(2*time.Second))

	if err := w.Spawn(testConfig()); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if !w.IsProcessAlive() {
		t.Fatal("IsProcessAlive() = false after Spawn")
	}
	if got := w.State(); got != prewarm.StateIdle {
		t.Errorf("State() = %s after Spawn, want Idle", got)
	}

	// Spawning again while the process is alive is a no-op.
	if err := w.Spawn(testConfig()); err != nil {
		t.Fatalf("second Spawn() error = %v", err)
	}

	if err := w.Terminate(); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if w.IsProcessAlive() {
		t.Error("IsProcessAlive() = true after Terminate")
	}
	// Terminating twice is a no-op.
	if err := w.Terminate(); err != nil {
		t.Errorf("second Terminate() error = %v", err)
	}
}

func TestExecuteTest(t *testing.T) {
	t.Parallel()

	w := newTestWorker(t, passExec)
	if err := w.Spawn(testConfig()); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	res, err := w.ExecuteTest(tc{id: "t1", name: "suite.t1"}, time.Second)
	if err != nil {
		t.Fatalf("ExecuteTest() error = %v", err)
	}
	if res.Status != prewarm.StatusPassed || res.TestID != "t1" {
		t.Errorf("result = %+v", res)
	}
	if res.Duration <= 0 {
		t.Errorf("Duration = %s, want > 0", res.Duration)
	}
}

func TestExecuteTestTimeout(t *testing.T) {
	t.Parallel()

	hang := func(ctx context.Context, w *Worker, tc prewarm.TestCase) (prewarm.TestResult, error) {
		<-ctx.Done()
		return prewarm.TestResult{}, ctx.Err()
	}
	w := newTestWorker(t, hang)
	if err := w.Spawn(testConfig()); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	_, err := w.ExecuteTest(tc{id: "t1", name: "suite.t1"}, 20*time.Millisecond)
	var timeoutErr *prewarm.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("ExecuteTest() = %v, want *prewarm.TimeoutError", err)
	}
	if timeoutErr.Duration != 20*time.Millisecond {
		t.Errorf("TimeoutError.Duration = %s", timeoutErr.Duration)
	}
}

func TestExecuteTestDeadProcess(t *testing.T) {
	t.Parallel()

	w := newTestWorker(t, passExec)

	// Never spawned.
	_, err := w.ExecuteTest(tc{id: "t1", name: "suite.t1"}, time.Second)
	var crashErr *prewarm.CrashError
	if !errors.As(err, &crashErr) {
		t.Fatalf("ExecuteTest() on unspawned worker = %v, want *prewarm.CrashError", err)
	}

	// Spawned then terminated.
	if err := w.Spawn(testConfig()); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if err := w.Terminate(); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	_, err = w.ExecuteTest(tc{id: "t1", name: "suite.t1"}, time.Second)
	if !errors.As(err, &crashErr) {
		t.Fatalf("ExecuteTest() after Terminate = %v, want *prewarm.CrashError", err)
	}
}

func TestCrashBookkeeping(t *testing.T) {
	t.Parallel()

	w := newTestWorker(t, passExec)

	if _, ok := w.LastCrashReason(); ok {
		t.Error("LastCrashReason() reported a crash on a fresh worker")
	}
	if got := w.RestartCount(); got != 0 {
		t.Errorf("RestartCount() = %d, want 0", got)
	}

	w.RecordCrash("segfault")
	w.RecordCrash("oom")

	if got := w.RestartCount(); got != 2 {
		t.Errorf("RestartCount() = %d, want 2", got)
	}
	reason, ok := w.LastCrashReason()
	if !ok || reason != "oom" {
		t.Errorf("LastCrashReason() = %q, %v", reason, ok)
	}
}

func TestStateTransitions(t *testing.T) {
	t.Parallel()

	w := newTestWorker(t, passExec)

	w.MarkIdle()
	if !w.IsAvailable() {
		t.Error("IsAvailable() = false after MarkIdle")
	}
	w.MarkBusy()
	if w.IsAvailable() || w.State() != prewarm.StateBusy {
		t.Errorf("State() = %s after MarkBusy", w.State())
	}
	w.MarkCrashed()
	if w.State() != prewarm.StateCrashed {
		t.Errorf("State() = %s after MarkCrashed", w.State())
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	// Without a PingFunc, Ping mirrors OS-level liveness.
	w := newTestWorker(t, passExec)
	if w.Ping(time.Second) {
		t.Error("Ping() = true before Spawn")
	}
	if err := w.Spawn(testConfig()); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if !w.Ping(time.Second) {
		t.Error("Ping() = false on live process")
	}

	// With a PingFunc, that protocol check decides.
	pinged := false
	w2 := newTestWorker(t, passExec, WithPingFunc(func(ctx context.Context, w *Worker) bool {
		pinged = true
		return false
	}))
	if err := w2.Spawn(testConfig()); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if w2.Ping(time.Second) {
		t.Error("Ping() = true despite failing PingFunc")
	}
	if !pinged {
		t.Error("PingFunc was not invoked")
	}
}

func TestFactoryAssignsDataDirs(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	factory := Factory(base, passExec)

	w0 := factory(0).(*Worker)
	w3 := factory(3).(*Worker)
	if w0.DataDir() == w3.DataDir() {
		t.Errorf("workers share data dir %q", w0.DataDir())
	}
	if w0.Index() != 0 || w3.Index() != 3 {
		t.Errorf("indices = %d, %d", w0.Index(), w3.Index())
	}
}
