// Package clock issues sequence keys for actor event logs.
//
// A sequence key is the wall-clock time in microseconds since the Unix
// epoch. Two appends in the same microsecond, or a wall clock that steps
// backwards, would break the strictly increasing order a log needs, so the
// clock also follows two rules:
//
//	Tick:    return max(now, last+1) and remember it.
//	Receive: on observing a key t written elsewhere, set last = max(last, t).
//
// Receive lets a writer seed itself from the current log head before
// appending, so a key never lands behind one already persisted.
package clock

import (
	"sync"
	"time"
)

// Clock is a monotonic microsecond clock. Safe for concurrent use.
type Clock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// New returns a Clock reading the system time.
func New() *Clock {
	return &Clock{now: time.Now}
}

// NewWithSource returns a Clock reading time from now. Used by tests.
func NewWithSource(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Tick returns the next sequence key: max(now in µs, last+1).
func (c *Clock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.read()
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}

// Receive records a key observed in a log so later ticks stay above it.
func (c *Clock) Receive(seen int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seen > c.last {
		c.last = seen
	}
}

// Value returns the last issued or observed key without advancing.
func (c *Clock) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Set forces the last key. Used to seed from storage.
func (c *Clock) Set(v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = v
}

func (c *Clock) read() int64 {
	if c.now == nil {
		return time.Now().UnixMicro()
	}
	return c.now().UnixMicro()
}

// Before defines a deterministic total order over events from different
// actors: by sequence key, then by actor id.
func Before(seqA int64, actorA string, seqB int64, actorB string) bool {
	if seqA != seqB {
		return seqA < seqB
	}
	return actorA < actorB
}
