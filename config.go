package prewarm

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"time"
)

// Config describes a pool before construction: how many workers to pre-warm,
// how to spawn them, and how crashes are budgeted.
//
// Concurrency contract: a Config is never mutated after the pool is
// constructed. The With* setters take a value receiver and return an updated
// copy, so a shared base Config can be forked freely:
//
//	cfg := prewarm.DefaultConfig().
//	    WithExecPath("/usr/bin/python3").
//	    WithPreloadModules("json", "unittest").
//	    WithPoolSize(4)
type Config struct {
	// PoolSize is the fixed number of worker slots. Slots are never added or
	// removed after construction, only transitioned between states.
	PoolSize int

	// PreloadModules is the ordered list of modules each worker imports at
	// spawn time, trading startup cost once for cheap per-test execution.
	PreloadModules []string

	// ExecPath locates the worker executable (the interpreter to pre-warm).
	ExecPath string

	// TestTimeout bounds a single test's execution on a worker.
	TestTimeout time.Duration

	// MaxRestartAttempts is the per-slot restart budget. The budget is
	// compared against a cumulative counter that never resets, so it caps
	// crash recoveries over the pool's whole lifetime, not per incident.
	MaxRestartAttempts uint32

	// RestartDelay is the fixed pause between terminate and respawn during
	// crash recovery. Deliberately fixed — no exponential growth or jitter.
	RestartDelay time.Duration
}

// DefaultConfig returns a Config populated with all default values:
// one worker per logical CPU, a 60-second test timeout, a restart budget of
// 3, and a 100-millisecond restart delay.
func DefaultConfig() Config {
	return Config{
		PoolSize:           runtime.NumCPU(),
		TestTimeout:        DefaultTestTimeout,
		MaxRestartAttempts: DefaultMaxRestartAttempts,
		RestartDelay:       DefaultRestartDelay,
	}
}

// WithPoolSize returns a copy of c with the worker count set to size.
func (c Config) WithPoolSize(size int) Config {
	c.PoolSize = size
	return c
}

// WithPreloadModules returns a copy of c with the preload list replaced.
// The slice is cloned so later mutation of the arguments cannot leak into
// a constructed pool.
func (c Config) WithPreloadModules(modules ...string) Config {
	c.PreloadModules = slices.Clone(modules)
	return c
}

// WithExecPath returns a copy of c with the worker executable path set.
func (c Config) WithExecPath(path string) Config {
	c.ExecPath = path
	return c
}

// WithTestTimeout returns a copy of c with the per-test timeout set.
func (c Config) WithTestTimeout(d time.Duration) Config {
	c.TestTimeout = d
	return c
}

// WithMaxRestartAttempts returns a copy of c with the restart budget set.
// A budget of 0 means any crash permanently fails the affected slot.
func (c Config) WithMaxRestartAttempts(n uint32) Config {
	c.MaxRestartAttempts = n
	return c
}

// WithRestartDelay returns a copy of c with the fixed restart delay set.
func (c Config) WithRestartDelay(d time.Duration) Config {
	c.RestartDelay = d
	return c
}

// Validate checks all Config invariants and returns an error describing every
// violation found. It uses errors.Join to report multiple issues at once,
// allowing callers to fix all problems in a single pass rather than playing
// whack-a-mole with one error at a time.
//
// Validate is called by NewPool, which rejects invalid configuration before
// spawning anything.
func (c Config) Validate() error {
	var errs []error

	if c.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("pool size must be greater than 0, got %d", c.PoolSize))
	}
	if c.ExecPath == "" {
		errs = append(errs, errors.New("executable path must not be empty"))
	}
	if c.TestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("test timeout must be greater than 0, got %s", c.TestTimeout))
	}
	if c.RestartDelay < 0 {
		errs = append(errs, fmt.Errorf("restart delay must not be negative, got %s", c.RestartDelay))
	}
	for i, m := range c.PreloadModules {
		if m == "" {
			errs = append(errs, fmt.Errorf("preload module %d must not be empty", i))
		}
	}

	return errors.Join(errs...)
}
