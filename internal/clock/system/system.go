// Package system provides the wall clock used for task and account timestamps.
package system

import (
	"time"

	"github.com/JakeFAU/crawl-dispatcher/internal/taskqueue"
)

var _ taskqueue.Clock = Clock{}

// Clock implements taskqueue.Clock using time.Now in UTC. Postgres stores
// timestamptz, so UTC keeps in-memory and persisted values comparable.
type Clock struct{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current time truncated to microseconds, the precision
// Postgres keeps.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
