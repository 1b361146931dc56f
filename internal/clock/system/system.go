// Package system is the wall-clock implementation of pipeline.Clock.
package system

import "time"

// Clock reads the system time in UTC.
type Clock struct{}

// New returns a wall clock.
func New() *Clock {
	return &Clock{}
}

// Now reports the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
