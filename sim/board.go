// Package sim is a simulated motion board. It answers the same frames as the
// real electronics, drives two wheels with first-order dynamics and reports
// encoder positions and heartbeats on the bus.
package sim

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/notnil/canmotion/canbus"
	"github.com/notnil/canmotion/internal/clock"
	"github.com/notnil/canmotion/protocol"
)

// Config configures a Board. Only Bus is required.
type Config struct {
	// Bus is the board's own handle. The board closes it on Close.
	Bus    canbus.Bus
	Clock  clock.Clock
	Logger *slog.Logger

	// EncoderRate is how often encoder frames are sent, in Hz. Defaults
	// to 100.
	EncoderRate float64

	// HeartbeatInterval defaults to 1s.
	HeartbeatInterval time.Duration

	// TimeConstant is the wheels' velocity lag. Defaults to 150ms.
	TimeConstant time.Duration

	// MaxWheelSpeed caps position moves in ticks/s until a limits frame
	// sets one. Defaults to 2000.
	MaxWheelSpeed float64

	// PositionGain is the proportional gain of position moves in 1/s.
	// Defaults to 4.
	PositionGain float64
}

// Snapshot is the board's model state.
type Snapshot struct {
	Mode     protocol.Mode
	Ticks    [2]float64
	Velocity [2]float64 // ticks/s
	Target   [2]float64 // ticks/s in speed mode, ticks in position mode
	Gains    map[protocol.Controller][3]uint32
	Limits   protocol.Limits
	Stops    int
}

// Board is one simulated motion board attached to a bus.
type Board struct {
	bus      canbus.Bus
	clock    clock.Clock
	log      *slog.Logger
	interval time.Duration
	hbEvery  time.Duration
	tau      float64
	maxSpeed float64
	kp       float64

	mu      sync.Mutex
	mode    protocol.Mode
	moving  bool // position move active
	ticks   [2]float64
	vel     [2]float64
	target  [2]float64
	gains   map[protocol.Controller][3]uint32
	limits  protocol.Limits
	stops   int
	started time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New returns a stopped Board. Call Start to attach it to the bus.
func New(cfg Config) (*Board, error) {
	if cfg.Bus == nil {
		return nil, errors.New("sim: Config.Bus is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.EncoderRate <= 0 {
		cfg.EncoderRate = 100
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = time.Second
	}
	if cfg.TimeConstant <= 0 {
		cfg.TimeConstant = 150 * time.Millisecond
	}
	if cfg.MaxWheelSpeed <= 0 {
		cfg.MaxWheelSpeed = 2000
	}
	if cfg.PositionGain <= 0 {
		cfg.PositionGain = 4
	}
	return &Board{
		bus:      cfg.Bus,
		clock:    cfg.Clock,
		log:      cfg.Logger.With("component", "sim"),
		interval: time.Duration(float64(time.Second) / cfg.EncoderRate),
		hbEvery:  cfg.HeartbeatInterval,
		tau:      cfg.TimeConstant.Seconds(),
		maxSpeed: cfg.MaxWheelSpeed,
		kp:       cfg.PositionGain,
		gains:    make(map[protocol.Controller][3]uint32),
	}, nil
}

// Start launches the command reader and the encoder and heartbeat loops.
// Tickers are created before Start returns.
func (b *Board) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.started = b.clock.Now()
	enc := b.clock.NewTicker(b.interval)
	hb := b.clock.NewTicker(b.hbEvery)

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.readLoop(ctx)
	}()
	go func() {
		defer b.wg.Done()
		defer enc.Stop()
		defer hb.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-enc.C():
				b.Step(b.interval)
				if err := b.sendEncoder(ctx); err != nil {
					b.log.Warn("encoder frame not sent", "error", err)
				}
			case now := <-hb.C():
				up := uint8(now.Sub(b.started) / time.Second)
				if err := b.send(ctx, protocol.Heartbeat{Data: []byte{up}}); err != nil {
					b.log.Warn("heartbeat not sent", "error", err)
				}
			}
		}
	}()
	b.log.Info("simulated board started", "encoder_interval", b.interval, "heartbeat", b.hbEvery)
}

// Close stops the loops and closes the bus handle.
func (b *Board) Close() error {
	var err error
	b.once.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		err = b.bus.Close()
		b.wg.Wait()
		if errors.Is(err, canbus.ErrClosed) {
			err = nil
		}
	})
	return err
}

func (b *Board) readLoop(ctx context.Context) {
	// Frames the board emits itself are never commands.
	isCommand := canbus.And(
		canbus.And(protocol.FromBoard(protocol.ChannelMotor, protocol.BoardMotor), canbus.DataOnly()),
		canbus.Not(protocol.ByMessage(protocol.KindEncoder, protocol.KindDebug, protocol.KindHeartbeat)),
	)
	for {
		f, err := b.bus.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				b.log.Error("simulated board lost its bus", "error", err)
			}
			return
		}
		if !isCommand(f) {
			continue
		}
		_, msg, err := protocol.Decode(f)
		if err != nil {
			b.log.Warn("malformed command", "frame", f.String(), "error", err)
			continue
		}
		b.Handle(msg)
	}
}

// Handle applies one command.
func (b *Board) Handle(msg protocol.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch m := msg.(type) {
	case protocol.Stop:
		b.stops++
		b.moving = false
		b.target = [2]float64{}
	case protocol.ModeSelect:
		b.mode = m.Mode
		b.moving = false
		b.target = [2]float64{}
	case protocol.SpeedOrder:
		if b.mode&protocol.ModeSpeedLoop == 0 {
			b.log.Debug("speed order outside speed mode", "mode", b.mode)
			return
		}
		b.moving = false
		b.target = [2]float64{float64(m.Left), float64(m.Right)}
	case protocol.Move:
		if b.mode != protocol.ModeAll {
			b.log.Debug("move outside position mode", "mode", b.mode)
			return
		}
		d := float64(m.Ticks)
		switch m.Type {
		case protocol.MoveTranslate:
			b.target = [2]float64{b.ticks[0] + d, b.ticks[1] + d}
		case protocol.MoveRotate:
			b.target = [2]float64{b.ticks[0] - d, b.ticks[1] + d}
		default:
			return
		}
		b.moving = true
	case protocol.SetGain:
		g := b.gains[m.Controller]
		g[m.Term] = m.Value
		b.gains[m.Controller] = g
	case protocol.Limits:
		b.limits = m
		if m.WheelSpeed > 0 {
			b.maxSpeed = float64(m.WheelSpeed)
		}
	}
}

// Step advances the wheel model by dt.
func (b *Board) Step(dt time.Duration) {
	s := dt.Seconds()
	b.mu.Lock()
	defer b.mu.Unlock()
	for w := range b.ticks {
		cmd := 0.0
		switch {
		case b.moving:
			cmd = clamp(b.kp*(b.target[w]-b.ticks[w]), b.maxSpeed)
		case b.mode&protocol.ModeSpeedLoop != 0:
			cmd = b.target[w]
		}
		b.vel[w] += (cmd - b.vel[w]) * math.Min(s/b.tau, 1)
		b.ticks[w] += b.vel[w] * s
	}
}

func clamp(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}

// Snapshot returns a copy of the wheel model and the recorded settings.
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	gains := make(map[protocol.Controller][3]uint32, len(b.gains))
	for k, v := range b.gains {
		gains[k] = v
	}
	return Snapshot{
		Mode:     b.mode,
		Ticks:    b.ticks,
		Velocity: b.vel,
		Target:   b.target,
		Gains:    gains,
		Limits:   b.limits,
		Stops:    b.stops,
	}
}

func (b *Board) sendEncoder(ctx context.Context) error {
	b.mu.Lock()
	l, r := b.ticks[0], b.ticks[1]
	b.mu.Unlock()
	return b.send(ctx, protocol.EncoderPosition{Left: int32(math.Round(l)), Right: int32(math.Round(r))})
}

func (b *Board) send(ctx context.Context, msg protocol.Message) error {
	f, err := protocol.EncodeMotor(msg)
	if err != nil {
		return err
	}
	return b.bus.Send(ctx, f)
}
