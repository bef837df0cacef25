// Package system provides the wall clock used to date save requests.
package system

import "time"

// Clock implements savecode.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC. UTC also drops the monotonic reading,
// so request dates compare equal after a store round trip.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
