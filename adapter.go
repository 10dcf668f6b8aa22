package canmotion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/notnil/canmotion/canbus"
	"github.com/notnil/canmotion/internal/clock"
	"github.com/notnil/canmotion/protocol"
	"github.com/notnil/canmotion/units"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultOrderDelay  = 800 * time.Millisecond
	DefaultEncoderRate = 100.0 // Hz
	DefaultWindowSize  = 10
	DefaultSendTimeout = time.Second
)

// Config configures an Adapter. Only Dialer is required.
type Config struct {
	// Dialer opens a fresh bus handle for every sent frame and one long
	// lived handle for the receive listener.
	Dialer canbus.Dialer

	// Geometry defaults to units.DefaultGeometry.
	Geometry units.Geometry

	// Sink receives telemetry. Defaults to Discard.
	Sink Sink

	Logger *slog.Logger
	Clock  clock.Clock

	// OrderDelay separates an order from its frames so that repeated
	// requests coalesce and the board settles its mode before moving.
	OrderDelay time.Duration

	// EncoderRate is the board's encoder frame frequency in Hz.
	EncoderRate float64

	// MeasureInterval derives speed from the measured time between encoder
	// frames instead of EncoderRate.
	MeasureInterval bool

	// WindowSize is the depth of the speed smoothing window.
	WindowSize int

	// SendTimeout bounds each frame written to the bus.
	SendTimeout time.Duration
}

// Adapter is the protocol bridge to one motion board. Commands are safe for
// concurrent use.
type Adapter struct {
	dialer  canbus.Dialer
	conv    units.Converter
	sink    Sink
	log     *slog.Logger
	clock   clock.Clock
	delay   time.Duration
	rate    float64
	measure bool
	timeout time.Duration

	// ctx bounds frames sent by delayed orders; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	// cmd is a one-slot semaphore serializing frame sequences so a stop
	// never lands between a mode-select and its move.
	cmd chan struct{}

	mu       sync.Mutex
	st       state
	seq      uint64
	pending  clock.Timer
	inflight context.CancelFunc // preempts the current slot holder
	stopping int                // Stop calls waiting for the slot
	beats    map[protocol.Board]time.Time
	closed   bool

	lifeMu  sync.Mutex
	started bool
	rx      canbus.Bus
	mux     *canbus.Mux
	done    chan struct{}
	err     error
}

// New validates cfg and returns a stopped Adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("canmotion: Config.Dialer is required")
	}
	if cfg.Geometry == (units.Geometry{}) {
		cfg.Geometry = units.DefaultGeometry()
	}
	conv, err := units.NewConverter(cfg.Geometry)
	if err != nil {
		return nil, err
	}
	if cfg.Sink == nil {
		cfg.Sink = Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.OrderDelay < 0 {
		return nil, fmt.Errorf("canmotion: negative order delay %v", cfg.OrderDelay)
	}
	if cfg.OrderDelay == 0 {
		cfg.OrderDelay = DefaultOrderDelay
	}
	if cfg.EncoderRate < 0 {
		return nil, fmt.Errorf("canmotion: negative encoder rate %v", cfg.EncoderRate)
	}
	if cfg.EncoderRate == 0 {
		cfg.EncoderRate = DefaultEncoderRate
	}
	if cfg.WindowSize < 0 {
		return nil, fmt.Errorf("canmotion: negative window size %d", cfg.WindowSize)
	}
	if cfg.WindowSize == 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.SendTimeout < 0 {
		return nil, fmt.Errorf("canmotion: negative send timeout %v", cfg.SendTimeout)
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		dialer:  cfg.Dialer,
		conv:    conv,
		sink:    cfg.Sink,
		log:     cfg.Logger,
		clock:   cfg.Clock,
		delay:   cfg.OrderDelay,
		rate:    cfg.EncoderRate,
		measure: cfg.MeasureInterval,
		timeout: cfg.SendTimeout,
		cmd:     make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		st:      newState(cfg.WindowSize),
		beats:   make(map[protocol.Board]time.Time),
		done:    make(chan struct{}),
	}, nil
}

// Start opens the receive handle and launches the telemetry listener. The
// listener runs until Close, until ctx is cancelled, or until the bus fails;
// Done and Err report how it ended. Start may be called once.
func (a *Adapter) Start(ctx context.Context) error {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	if a.started {
		return errors.New("canmotion: adapter already started")
	}
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return ErrClosed
	}
	rx, err := a.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: open receive handle: %w", ErrTransport, err)
	}
	a.started = true
	a.rx = rx
	a.mux = canbus.NewMux(ctx, rx)

	frames, _ := a.mux.Subscribe(canbus.Or(
		protocol.ByMessage(protocol.KindEncoder, protocol.KindDebug),
		protocol.StopClass(),
	), 256)
	beats, _ := protocol.SubscribeHeartbeats(a.mux, nil, 16)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range beats {
			a.noteHeartbeat(ev)
		}
	}()
	go func() {
		for f := range frames {
			a.handleFrame(f)
		}
		wg.Wait()
		a.lifeMu.Lock()
		a.err = a.mux.Err()
		a.lifeMu.Unlock()
		if a.err != nil {
			a.log.Error("telemetry listener stopped", "error", a.err)
		} else {
			a.log.Debug("telemetry listener stopped")
		}
		close(a.done)
	}()
	a.log.Info("telemetry listener started",
		"delay", a.delay, "encoder_rate", a.rate, "measure_interval", a.measure)
	return nil
}

// Done is closed when the listener has exited, or by Close if the adapter
// was never started.
func (a *Adapter) Done() <-chan struct{} { return a.done }

// Err returns the bus error that ended the listener, if any.
func (a *Adapter) Err() error {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	return a.err
}

// Close cancels any pending order, stops the listener and releases the
// receive handle. It does not send a stop frame.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.cancelPendingLocked()
	a.mu.Unlock()
	a.cancel()

	a.lifeMu.Lock()
	started, mux, rx := a.started, a.mux, a.rx
	a.lifeMu.Unlock()
	if !started {
		close(a.done)
		return nil
	}
	mux.Close()
	err := rx.Close()
	<-a.done
	if errors.Is(err, canbus.ErrClosed) {
		err = nil
	}
	return err
}

// LastHeartbeat returns when board was last heard from.
func (a *Adapter) LastHeartbeat(board protocol.Board) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.beats[board]
	return t, ok
}

func (a *Adapter) noteHeartbeat(ev protocol.HeartbeatEvent) {
	now := a.clock.Now()
	a.mu.Lock()
	_, seen := a.beats[ev.ID.Board]
	a.beats[ev.ID.Board] = now
	a.mu.Unlock()
	if !seen {
		a.log.Info("board online", "board", ev.ID.Board, "channel", ev.ID.Channel)
	} else {
		a.log.Debug("heartbeat", "board", ev.ID.Board, "data", ev.Data)
	}
}

// acquire takes the command slot. The returned context is cancelled when a
// Stop wants the slot, unless stop is set. release must be called.
func (a *Adapter) acquire(ctx context.Context, stop bool) (context.Context, func(), error) {
	select {
	case a.cmd <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	cctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	if stop {
		a.inflight = nil
	} else {
		a.inflight = cancel
		if a.stopping > 0 {
			cancel()
		}
	}
	a.mu.Unlock()
	release := func() {
		a.mu.Lock()
		a.inflight = nil
		a.mu.Unlock()
		cancel()
		<-a.cmd
	}
	return cctx, release, nil
}

// send encodes msg for the motion board and transmits it on a handle that
// lives only for this frame.
func (a *Adapter) send(ctx context.Context, msg protocol.Message) error {
	f, err := protocol.EncodeMotor(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := canbus.SendOnce(ctx, a.dialer, f); err != nil {
		a.log.Error("frame not sent", "kind", msg.Kind(), "frame", f.String(), "error", err)
		return fmt.Errorf("%w: %s: %w", ErrTransport, msg.Kind(), err)
	}
	a.log.Debug("frame sent", "kind", msg.Kind(), "frame", f.String())
	return nil
}
