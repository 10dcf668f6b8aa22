package canbus

import (
	"context"
	"log/slog"
)

// LogOption selects which directions a logged bus records.
type LogOption uint8

const (
	LogNone  LogOption = 0
	LogRead  LogOption = 1 << iota
	LogWrite
	LogAll = LogRead | LogWrite
)

// NewLoggedBus wraps inner so that the selected operations are logged at
// level. Errors are always logged at error level. A non-nil filter limits
// which frames are logged; it never affects delivery.
func NewLoggedBus(inner Bus, logger *slog.Logger, level slog.Level, opts LogOption, filter FrameFilter) Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggedBus{inner: inner, logger: logger, level: level, opts: opts, filter: filter}
}

// NewLoggedDialer wraps every handle d opens with NewLoggedBus.
func NewLoggedDialer(d Dialer, logger *slog.Logger, level slog.Level, opts LogOption, filter FrameFilter) Dialer {
	return DialerFunc(func(ctx context.Context) (Bus, error) {
		bus, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return NewLoggedBus(bus, logger, level, opts, filter), nil
	})
}

type loggedBus struct {
	inner  Bus
	logger *slog.Logger
	level  slog.Level
	opts   LogOption
	filter FrameFilter
}

func (l *loggedBus) wants(f Frame) bool { return l.filter == nil || l.filter(f) }

func (l *loggedBus) Send(ctx context.Context, frame Frame) error {
	err := l.inner.Send(ctx, frame)
	if l.opts&LogWrite == 0 {
		return err
	}
	if err != nil {
		l.logger.LogAttrs(ctx, slog.LevelError, "canbus send error",
			slog.String("frame", frame.String()),
			slog.Any("error", err),
		)
		return err
	}
	if l.wants(frame) {
		l.logger.LogAttrs(ctx, l.level, "canbus send", frameAttrs(frame)...)
	}
	return nil
}

func (l *loggedBus) Receive(ctx context.Context) (Frame, error) {
	f, err := l.inner.Receive(ctx)
	if l.opts&LogRead == 0 {
		return f, err
	}
	if err != nil {
		if ctx.Err() == nil {
			l.logger.LogAttrs(ctx, slog.LevelError, "canbus receive error", slog.Any("error", err))
		}
		return f, err
	}
	if l.wants(f) {
		l.logger.LogAttrs(ctx, l.level, "canbus receive", frameAttrs(f)...)
	}
	return f, nil
}

func (l *loggedBus) Close() error { return l.inner.Close() }

func frameAttrs(f Frame) []slog.Attr {
	return []slog.Attr{
		slog.Uint64("id", uint64(f.ID)),
		slog.Bool("extended", f.Extended),
		slog.Bool("rtr", f.RTR),
		slog.Int("len", int(f.Len)),
		slog.String("frame", f.String()),
	}
}
