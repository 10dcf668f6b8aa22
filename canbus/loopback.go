package canbus

import (
	"context"
	"sync"
)

// LoopbackBus is an in-memory bus. Every endpoint opened on it sees the
// frames sent by all other endpoints, never its own.
type LoopbackBus struct {
	mu        sync.RWMutex
	closed    bool
	endpoints map[*loopEndpoint]struct{}
}

// loopDepth is the receive queue size of each endpoint.
const loopDepth = 64

// NewLoopbackBus creates an empty loopback bus.
func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{endpoints: make(map[*loopEndpoint]struct{})}
}

// Open attaches a new endpoint. Endpoints opened after Close are born closed.
func (b *LoopbackBus) Open() Bus {
	ep := &loopEndpoint{
		bus:    b,
		ch:     make(chan Frame, loopDepth),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ep.dead = true
		close(ep.closed)
		return ep
	}
	b.endpoints[ep] = struct{}{}
	return ep
}

// Dial implements Dialer.
func (b *LoopbackBus) Dial(ctx context.Context) (Bus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	return b.Open(), nil
}

// Close detaches and closes every endpoint.
func (b *LoopbackBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ep := range b.endpoints {
		ep.shutdown()
	}
	b.endpoints = nil
	return nil
}

type loopEndpoint struct {
	bus    *LoopbackBus
	ch     chan Frame
	closed chan struct{}

	mu   sync.Mutex
	dead bool
}

// Send delivers the frame to every other endpoint, waiting for queue space.
func (e *loopEndpoint) Send(ctx context.Context, frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	select {
	case <-e.closed:
		return ErrClosed
	default:
	}
	e.bus.mu.RLock()
	if e.bus.closed {
		e.bus.mu.RUnlock()
		return ErrClosed
	}
	peers := make([]*loopEndpoint, 0, len(e.bus.endpoints))
	for ep := range e.bus.endpoints {
		if ep != e {
			peers = append(peers, ep)
		}
	}
	e.bus.mu.RUnlock()

	for _, p := range peers {
		if err := p.deliver(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}

func (e *loopEndpoint) deliver(ctx context.Context, frame Frame) error {
	select {
	case e.ch <- frame:
	case <-e.closed:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Receive waits for the next frame from a peer.
func (e *loopEndpoint) Receive(ctx context.Context) (Frame, error) {
	select {
	case <-e.closed:
		return Frame{}, ErrClosed
	default:
	}
	select {
	case f := <-e.ch:
		return f, nil
	case <-e.closed:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close detaches the endpoint from its bus.
func (e *loopEndpoint) Close() error {
	e.bus.mu.Lock()
	e.shutdown()
	if e.bus.endpoints != nil {
		delete(e.bus.endpoints, e)
	}
	e.bus.mu.Unlock()
	return nil
}

// shutdown requires the bus lock.
func (e *loopEndpoint) shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return
	}
	e.dead = true
	close(e.closed)
}
