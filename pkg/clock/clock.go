// Package clock is the engine's source of "now".
//
// Movement resolution is driven entirely by timestamps: the scheduler
// passes the current time into each poll, and every other operation asks
// the injected Clock. Nothing in the engine calls time.Now directly, so
// tests can move time forward by hand.
//
// Note: Manual is goroutine-safe; concurrent scheduler workers in tests
// may share one instance.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// System is the wall clock, truncated to milliseconds (the storage
// resolution) and in UTC.
type System struct{}

// Now implements Clock.
func (System) Now() time.Time { return Truncate(time.Now()) }

// Manual is a clock that only moves when told to.
type Manual struct {
	mu sync.Mutex
	t  time.Time
}

// NewManual returns a Manual clock set to t.
func NewManual(t time.Time) *Manual {
	return &Manual{t: Truncate(t)}
}

// Now implements Clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

// Set moves the clock to t, forwards or backwards.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.t = Truncate(t)
	m.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = Truncate(m.t.Add(d))
	return m.t
}

// Truncate drops sub-millisecond precision and normalizes to UTC, so
// values survive a round trip through storage unchanged.
func Truncate(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}

// ArrivalOrderLess defines the order in which due movements resolve:
// earlier arrival first; at equal arrival, lower priority first
// (friendly arrivals before attacks); then by id. This is a total
// order, so concurrent workers agree on it without coordination.
func ArrivalOrderLess(arriveA time.Time, prioA int, idA string, arriveB time.Time, prioB int, idB string) bool {
	if !arriveA.Equal(arriveB) {
		return arriveA.Before(arriveB)
	}
	if prioA != prioB {
		return prioA < prioB
	}
	return idA < idB
}
