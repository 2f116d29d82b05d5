// Package system is the wall-clock time source wired in at runtime. Tests
// substitute their own fake clocks.
package system

import "time"

// Clock reads the system time, always in UTC so cached timestamps compare
// consistently across hosts.
type Clock struct{}

func New() Clock {
	return Clock{}
}

func (Clock) Now() time.Time {
	return time.Now().UTC()
}
