// Package sink holds telemetry sinks for canmotion and the queue that keeps
// slow sinks off the adapter's listener goroutine.
package sink

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/notnil/canmotion"
)

// Async forwards samples to another sink from its own goroutine. When the
// queue is full new samples are dropped and counted.
type Async struct {
	next canmotion.Sink
	log  *slog.Logger
	ch   chan canmotion.Sample
	done chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// NewAsync starts a worker delivering to next. buffer is the queue depth.
func NewAsync(next canmotion.Sink, buffer int, logger *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		next: next,
		log:  logger,
		ch:   make(chan canmotion.Sample, buffer),
		done: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for s := range a.ch {
		a.next.Push(s)
	}
}

// Push queues s without blocking.
func (a *Async) Push(s canmotion.Sample) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- s:
	default:
		if n := a.dropped.Add(1); n == 1 || n%1000 == 0 {
			a.log.Warn("sink queue full, dropping samples", "dropped", n)
		}
	}
}

// Dropped returns how many samples were lost to a full queue.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Close stops accepting samples and waits until the queue is drained.
func (a *Async) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()
	<-a.done
	return nil
}
