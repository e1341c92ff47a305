// Package sentinel provides an immutable error type for sentinel error
// declarations.
//
// Sentinel errors declared with errors.New are mutable package variables that
// consumers could reassign. Error is a string-based error type that can be
// declared as a const instead, while remaining compatible with errors.Is
// through wrapped error chains.
package sentinel
