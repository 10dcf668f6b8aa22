package canbus

import (
	"context"
	"sync"
)

// FrameFilter decides whether a frame should be delivered to a subscriber.
type FrameFilter func(Frame) bool

// Mux owns the receive side of a Bus and fans frames out to filtered
// subscribers from a single goroutine. Send is not proxied.
//
// A slow subscriber whose buffer is full misses frames; it never stalls the
// others.
type Mux struct {
	bus    Bus
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.RWMutex
	subs map[uint64]*subscriber
	next uint64
	err  error
}

type subscriber struct {
	filter FrameFilter
	ch     chan Frame
}

// NewMux starts a multiplexer on bus. It runs until Close, until ctx is
// cancelled, or until Receive fails.
func NewMux(ctx context.Context, bus Bus) *Mux {
	ctx, cancel := context.WithCancel(ctx)
	m := &Mux{
		bus:    bus,
		cancel: cancel,
		done:   make(chan struct{}),
		subs:   make(map[uint64]*subscriber),
	}
	go m.run(ctx)
	return m
}

// Close stops the reader, waits for it to exit and closes all subscriber
// channels. The underlying Bus is left open.
func (m *Mux) Close() error {
	m.cancel()
	<-m.done
	return nil
}

// Done is closed once the reader has exited.
func (m *Mux) Done() <-chan struct{} { return m.done }

// Err returns the receive error that stopped the reader, or nil if it is
// still running or was stopped through Close or its context.
func (m *Mux) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// Subscribe registers a filter (nil matches everything) and returns a channel
// with the given buffer. cancel closes the channel; it is safe to call more
// than once and after the Mux has stopped.
func (m *Mux) Subscribe(filter FrameFilter, buffer int) (<-chan Frame, func()) {
	if buffer < 0 {
		buffer = 0
	}
	s := &subscriber{filter: filter, ch: make(chan Frame, buffer)}
	m.mu.Lock()
	select {
	case <-m.done:
		m.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	default:
	}
	id := m.next
	m.next++
	m.subs[id] = s
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if cur, ok := m.subs[id]; ok && cur == s {
			close(cur.ch)
			delete(m.subs, id)
		}
		m.mu.Unlock()
	}
	return s.ch, cancel
}

func (m *Mux) run(ctx context.Context) {
	var err error
	defer func() {
		m.mu.Lock()
		if ctx.Err() == nil {
			m.err = err
		}
		for id, s := range m.subs {
			close(s.ch)
			delete(m.subs, id)
		}
		close(m.done)
		m.mu.Unlock()
	}()
	for {
		var f Frame
		f, err = m.bus.Receive(ctx)
		if err != nil {
			return
		}
		m.mu.RLock()
		for _, s := range m.subs {
			if s.filter != nil && !s.filter(f) {
				continue
			}
			select {
			case s.ch <- f:
			default:
			}
		}
		m.mu.RUnlock()
	}
}
