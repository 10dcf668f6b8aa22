package canbus

import (
	"context"
	"errors"
)

// Bus is an open handle on a CAN bus. Implementations are safe for
// concurrent use.
type Bus interface {
	// Send transmits a frame, blocking until it is queued or ctx is done.
	Send(ctx context.Context, frame Frame) error

	// Receive blocks until a frame arrives or ctx is done.
	Receive(ctx context.Context) (Frame, error)

	// Close releases the handle. Later calls return ErrClosed.
	Close() error
}

// ErrClosed indicates the bus or endpoint has been closed.
var ErrClosed = errors.New("canbus: closed")

// Dialer opens bus handles on demand.
type Dialer interface {
	Dial(ctx context.Context) (Bus, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Bus, error)

// Dial calls fn(ctx).
func (fn DialerFunc) Dial(ctx context.Context) (Bus, error) { return fn(ctx) }

// SendOnce dials a handle, sends one frame and closes the handle again,
// whatever the outcome.
func SendOnce(ctx context.Context, d Dialer, frame Frame) (err error) {
	bus, err := d.Dial(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := bus.Close(); cerr != nil && err == nil && !errors.Is(cerr, ErrClosed) {
			err = cerr
		}
	}()
	return bus.Send(ctx, frame)
}

// Shared returns a Dialer that hands out bus itself for transports that can
// only be opened once, such as a serial adapter. Closing a handle obtained
// from it leaves bus open; the owner closes bus directly.
func Shared(bus Bus) Dialer {
	return DialerFunc(func(ctx context.Context) (Bus, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return sharedHandle{bus}, nil
	})
}

type sharedHandle struct{ Bus }

func (sharedHandle) Close() error { return nil }
