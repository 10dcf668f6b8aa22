// Package clock abstracts the time operations the adapter and simulator
// schedule work with, so tests can drive them deterministically.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the subset of the time package used by this module.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f in its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer

	// NewTicker delivers ticks every d.
	NewTicker(d time.Duration) Ticker
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call and reports whether it was still pending.
	Stop() bool
}

// Ticker delivers ticks on C.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

func (Real) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.t.C }
func (t realTicker) Stop()               { t.t.Stop() }

// Mock is a manually advanced clock. Timer callbacks run synchronously
// inside Advance, in deadline order.
type Mock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*mockTimer
	tickers []*mockTicker
}

// NewMock returns a Mock set to t.
func NewMock(t time.Time) *Mock { return &Mock{now: t} }

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Mock) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &mockTimer{clock: m, at: m.now.Add(d), f: f}
	m.timers = append(m.timers, t)
	return t
}

func (m *Mock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &mockTicker{clock: m, every: d, next: m.now.Add(d), ch: make(chan time.Time, 1)}
	m.tickers = append(m.tickers, t)
	return t
}

// Pending returns the number of timers that have not fired or been stopped.
func (m *Mock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Advance moves the clock forward by d, firing due timers and ticking due
// tickers. A ticker that falls behind drops ticks like time.Ticker.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	var due []*mockTimer
	keep := m.timers[:0]
	for _, t := range m.timers {
		if !t.at.After(now) {
			due = append(due, t)
		} else {
			keep = append(keep, t)
		}
	}
	m.timers = keep
	var ticks []*mockTicker
	for _, t := range m.tickers {
		if !t.next.After(now) {
			ticks = append(ticks, t)
			for !t.next.After(now) {
				t.next = t.next.Add(t.every)
			}
		}
	}
	m.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
	for _, t := range ticks {
		select {
		case t.ch <- now:
		default:
		}
	}
}

type mockTimer struct {
	clock *Mock
	at    time.Time
	f     func()
}

func (t *mockTimer) Stop() bool {
	m := t.clock
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.timers {
		if p == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return true
		}
	}
	return false
}

type mockTicker struct {
	clock *Mock
	every time.Duration
	next  time.Time
	ch    chan time.Time
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }

func (t *mockTicker) Stop() {
	m := t.clock
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.tickers {
		if p == t {
			m.tickers = append(m.tickers[:i], m.tickers[i+1:]...)
			return
		}
	}
}
