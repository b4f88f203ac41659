// Package clock abstracts wall-clock time so the sweep scheduler and the
// quest services can be driven deterministically in tests.
package clock

import "time"

// Clock is the time source used by the services. Production code uses
// Real(); tests use Fake().
type Clock interface {
	// Now returns the current time in UTC.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now().UTC() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
