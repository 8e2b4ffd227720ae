// Package assert implements the defensive-check style used throughout
// Provara: cheap preconditions that fail loud as an error return instead
// of panicking, so a violated invariant never corrupts a vault silently.
package assert

import "fmt"

// Check returns an error built from format+args when cond is false, and
// nil otherwise. Callers use it as `if err := assert.Check(...); err != nil`.
func Check(cond bool, format string, args ...interface{}) error {
	if cond {
		return nil
	}
	return fmt.Errorf("assertion failed: "+format, args...)
}

// NotNil asserts that v is a non-nil pointer-like value, identified by name
// in the resulting error.
func NotNil(v interface{}, name string) error {
	if v == nil {
		return fmt.Errorf("assertion failed: %s must not be nil", name)
	}
	return nil
}

// InRange asserts lo <= v <= hi, identified by name in the resulting error.
func InRange(v, lo, hi int, name string) error {
	if v < lo || v > hi {
		return fmt.Errorf("assertion failed: %s out of range [%d,%d]: %d", name, lo, hi, v)
	}
	return nil
}
