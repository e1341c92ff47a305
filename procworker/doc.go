// Package procworker provides the OS-process implementation of the pool's
// worker contract. Each worker owns one pre-warmed interpreter process,
// spawned with --preload flags for the configured modules and writing its
// stdout/stderr to per-worker log files. The test-execution wire protocol is
// injected through an ExecFunc so the same process plumbing serves any
// runner/interpreter pairing.
package procworker
