// Package clock abstracts the current time so that schedule math can be tested.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// System is the wall clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// Fixed always returns the same instant.
type Fixed struct {
	At time.Time
}

// Now returns the configured instant.
func (f Fixed) Now() time.Time { return f.At }
