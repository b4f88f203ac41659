package clock

import (
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance or Set is called.
// It is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
	changed *sync.Cond
}

type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{current: initial.UTC()}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After registers a waiter that fires once the clock passes now+d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.waiters = append(c.waiters, &fakeWaiter{deadline: c.current.Add(d), channel: channel})
	c.changed.Broadcast()
	return channel
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline has been reached.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	c.fireLocked()
}

// Set moves the clock to t. Moving backwards never fires waiters.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t.UTC()
	c.fireLocked()
}

// Waiters reports how many After calls are still pending.
func (c *FakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// BlockUntilWaiters blocks until at least n After calls are pending. Tests
// use it to know a goroutine has parked on the clock before advancing it.
func (c *FakeClock) BlockUntilWaiters(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.waiters) < n {
		c.changed.Wait()
	}
}

func (c *FakeClock) fireLocked() {
	pending := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.deadline.After(c.current) {
			w.channel <- c.current
			continue
		}
		pending = append(pending, w)
	}
	c.waiters = pending
	c.changed.Broadcast()
}
