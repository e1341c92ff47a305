package prewarm

import (
	"log/slog"
	"sync/atomic"
)

// logger is the package-level logger, stored as an atomic pointer to allow
// safe concurrent reads and writes. Named "logger" instead of "log" to avoid
// shadowing the stdlib "log" package.
//
// A nil value means no custom logger has been set; Logger() falls back to a
// cached default derived from slog.Default().
var logger atomic.Pointer[slog.Logger]

// defaultLogger caches the default-derived logger (slog.Default() with the
// prewarm component attribute) so it is not re-created on every Logger() call.
// If slog.SetDefault() is called after the first Logger() call, the cached
// logger will not reflect the change; calling SetLogger(nil) clears the cache
// so the next Logger() call picks up the new default.
var defaultLogger atomic.Pointer[slog.Logger]

// Logger returns the current package-level logger. If no custom logger has
// been set via SetLogger, it returns a cached logger derived from
// slog.Default() with the prewarm component attribute. Safe to call from
// multiple goroutines.
func Logger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	l := slog.Default().With("component", "prewarm")
	// CompareAndSwap avoids overwriting a concurrently cached value. If
	// another goroutine already stored a logger, use theirs.
	if defaultLogger.CompareAndSwap(nil, l) {
		return l
	}
	if l2 := defaultLogger.Load(); l2 != nil {
		return l2
	}
	// A concurrent SetLogger cleared the cache between our CAS and the
	// re-load; fall back to the locally created logger so we never return nil.
	return l
}

// SetLogger replaces the package-level logger used by prewarm. If l is nil,
// the logger resets to the default: slog.Default() with the "component"
// attribute, re-derived on the next Logger() call and then cached.
//
// SetLogger is safe to call concurrently with other pool operations. For a
// strict happens-before guarantee, call it before constructing pools.
func SetLogger(l *slog.Logger) {
	logger.Store(l)
	defaultLogger.Store(nil)
}
