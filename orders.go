package canmotion

import (
	"context"
	"errors"
	"fmt"

	"github.com/notnil/canmotion/protocol"
	"github.com/notnil/canmotion/units"
)

// plan is a validated order ready to be applied.
type plan struct {
	order    Order
	mode     Mode
	setpoint float64 // mm/s or mm
	ticks    int32
}

// SubmitOrder schedules o to take effect after the order delay. A newer
// order or a stop cancels an order that has not fired yet. An empty order
// stops immediately.
func (a *Adapter) SubmitOrder(ctx context.Context, o Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if o.IsStop() {
		return a.Stop(ctx)
	}
	p, err := a.plan(o)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.cancelPendingLocked()
	seq := a.seq
	a.pending = a.clock.AfterFunc(a.delay, func() { a.apply(seq, p) })
	a.log.Info("order scheduled", "order", o.String(), "delay", a.delay)
	return nil
}

func (a *Adapter) plan(o Order) (plan, error) {
	var p plan
	p.order = o
	switch {
	case o.Speed != nil:
		p.mode, p.setpoint = ModeSpeed, *o.Speed
	case o.Position != nil:
		p.mode, p.setpoint = ModePosition, *o.Position
	case o.Angle != nil:
		p.mode, p.setpoint = ModeRotation, a.conv.WheelTravelMM(*o.Angle)
	}
	ticks, err := units.RoundInt32(a.conv.MMToTick(p.setpoint))
	if err != nil {
		return plan{}, fmt.Errorf("%w: %s: %w", ErrInvalidOrder, o, err)
	}
	p.ticks = ticks
	return p, nil
}

// cancelPendingLocked invalidates the scheduled order, if any. a.mu must be
// held.
func (a *Adapter) cancelPendingLocked() {
	a.seq++
	if a.pending != nil {
		a.pending.Stop()
		a.pending = nil
	}
}

// apply runs when an order's delay has elapsed.
func (a *Adapter) apply(seq uint64, p plan) {
	ctx, release, err := a.acquire(a.ctx, false)
	if err != nil {
		return
	}
	defer release()

	a.mu.Lock()
	if seq != a.seq || a.closed {
		a.mu.Unlock()
		return
	}
	a.pending = nil
	a.st.baseline = a.st.last
	a.st.clearSetpoints()
	a.st.mode = p.mode
	switch p.mode {
	case ModeSpeed:
		a.st.speedSP = p.setpoint
	case ModePosition:
		v := p.setpoint
		a.st.positionSP = &v
	case ModeRotation:
		v := p.setpoint
		a.st.rotationSP = &v
	}
	baseline := a.st.baseline
	a.mu.Unlock()

	var msgs []protocol.Message
	switch p.mode {
	case ModeSpeed:
		msgs = []protocol.Message{
			protocol.ModeSelect{Mode: protocol.ModeSpeed},
			protocol.SpeedOrder{Left: p.ticks, Right: p.ticks},
		}
	case ModePosition:
		msgs = []protocol.Message{
			protocol.ModeSelect{Mode: protocol.ModeAll},
			protocol.Move{Type: protocol.MoveTranslate, Ticks: p.ticks},
		}
	case ModeRotation:
		msgs = []protocol.Message{
			protocol.ModeSelect{Mode: protocol.ModeAll},
			protocol.Move{Type: protocol.MoveRotate, Ticks: p.ticks},
		}
	}
	a.log.Info("order applied", "order", p.order.String(), "ticks", p.ticks,
		"baseline_left", baseline[left], "baseline_right", baseline[right])
	for _, m := range msgs {
		if err := a.send(ctx, m); err != nil {
			a.log.Error("order aborted", "order", p.order.String(), "error", err)
			return
		}
	}
}

// Stop cancels any pending order, clears every setpoint and sends the stop
// frame. An order or gain submission still sending is aborted first.
// Odometry baselines are kept.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.cancelPendingLocked()
	a.st.clearSetpoints()
	a.stopping++
	if a.inflight != nil {
		a.inflight()
	}
	a.mu.Unlock()

	_, release, err := a.acquire(ctx, true)
	a.mu.Lock()
	a.stopping--
	a.mu.Unlock()
	if err != nil {
		return fmt.Errorf("canmotion: stop: %w", err)
	}
	defer release()

	a.log.Info("stop")
	return a.send(ctx, protocol.Stop{})
}

// gainFrames returns the 13 messages of a gain submission in wire order.
func (a *Adapter) gainFrames(g GainSet) ([]protocol.Message, error) {
	var errs []error
	var msgs []protocol.Message
	for _, c := range []struct {
		name string
		id   protocol.Controller
		pid  PID
	}{
		{"translation", protocol.ControllerLeftPosition, g.Translation},
		{"rotation", protocol.ControllerRightPosition, g.Rotation},
		{"speed_left", protocol.ControllerLeftSpeed, g.SpeedLeft},
		{"speed_right", protocol.ControllerRightSpeed, g.SpeedRight},
	} {
		for _, term := range []struct {
			t    protocol.Term
			coef float64
		}{{protocol.TermP, c.pid.P}, {protocol.TermI, c.pid.I}, {protocol.TermD, c.pid.D}} {
			v, err := protocol.EncodeGain(term.coef)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s.%s: %w", c.name, term.t, err))
				continue
			}
			msgs = append(msgs, protocol.SetGain{Term: term.t, Controller: c.id, Value: v})
		}
	}

	var lim [4]uint16
	for i, l := range []struct {
		name string
		v    float64
	}{
		{"translation_speed", g.Limits.TranslationSpeed},
		{"rotation_speed", g.Limits.RotationSpeed},
		{"wheel_speed", g.Limits.WheelSpeed},
		{"wheel_accel", g.Limits.WheelAccel},
	} {
		t, err := units.TruncUint16(a.conv.MMToTick(l.v))
		if err != nil {
			errs = append(errs, fmt.Errorf("limits.%s: %w", l.name, err))
			continue
		}
		lim[i] = t
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGain, errors.Join(errs...))
	}
	msgs = append(msgs, protocol.Limits{
		TranslationSpeed: lim[0],
		RotationSpeed:    lim[1],
		WheelSpeed:       lim[2],
		WheelAccel:       lim[3],
	})
	return msgs, nil
}

// SubmitGains programs all four controllers and the limits. Nothing is sent
// if any value is invalid. Every frame is attempted unless a Stop cuts the
// submission short; failures are reported together.
func (a *Adapter) SubmitGains(ctx context.Context, g GainSet) error {
	msgs, err := a.gainFrames(g)
	if err != nil {
		return err
	}

	ctx, release, err := a.acquire(ctx, false)
	if err != nil {
		return err
	}
	defer release()
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return ErrClosed
	}

	var errs []error
	for _, m := range msgs {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%s: aborted: %w", m.Kind(), ctx.Err()))
			continue
		}
		if err := a.send(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d gain frames failed: %w", len(errs), len(msgs), errors.Join(errs...))
	}
	a.log.Info("gains programmed", "frames", len(msgs))
	return nil
}
