// Package system provides the clocks that stamp live snapshots and dataset pointers.
package system

import "time"

// Clock implements tracker.Clock using the wall clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a tracker.Clock stuck at one instant, for reproducible runs and tests.
type Fixed time.Time

// At returns a Fixed clock for t.
func At(t time.Time) Fixed {
	return Fixed(t)
}

// Now returns the pinned instant in UTC.
func (f Fixed) Now() time.Time {
	return time.Time(f).UTC()
}
