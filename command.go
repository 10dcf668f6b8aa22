package canmotion

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidGain rejects a gain submission before any frame is sent.
	ErrInvalidGain = errors.New("canmotion: invalid gain")
	// ErrInvalidOrder rejects an ambiguous or out-of-range order before any
	// frame is sent.
	ErrInvalidOrder = errors.New("canmotion: invalid order")
	// ErrTransport wraps bus failures on the send path.
	ErrTransport = errors.New("canmotion: transport failure")
	// ErrClosed is returned by commands issued after Close.
	ErrClosed = errors.New("canmotion: adapter closed")
)

// Commander is the command surface an operator interface drives.
type Commander interface {
	SubmitGains(ctx context.Context, g GainSet) error
	SubmitOrder(ctx context.Context, o Order) error
	Stop(ctx context.Context) error
}

// PID holds the coefficients of one controller.
type PID struct {
	P float64 `json:"p" yaml:"p"`
	I float64 `json:"i" yaml:"i"`
	D float64 `json:"d" yaml:"d"`
}

// Limits caps the board's motion. Speeds are in mm/s, the acceleration in
// mm/s².
type Limits struct {
	TranslationSpeed float64 `json:"translation_speed" yaml:"translation_speed"`
	RotationSpeed    float64 `json:"rotation_speed" yaml:"rotation_speed"`
	WheelSpeed       float64 `json:"wheel_speed" yaml:"wheel_speed"`
	WheelAccel       float64 `json:"wheel_accel" yaml:"wheel_accel"`
}

// GainSet is one complete gain submission. Translation gains program the
// left position controller and rotation gains the right one.
type GainSet struct {
	SpeedLeft   PID    `json:"speed_left" yaml:"speed_left"`
	SpeedRight  PID    `json:"speed_right" yaml:"speed_right"`
	Translation PID    `json:"translation" yaml:"translation"`
	Rotation    PID    `json:"rotation" yaml:"rotation"`
	Limits      Limits `json:"limits" yaml:"limits"`
}

// Order is a movement request. At most one field may be set; an empty order
// stops the robot.
type Order struct {
	Speed    *float64 `json:"speed,omitempty"`    // mm/s, straight line
	Position *float64 `json:"position,omitempty"` // mm, straight line
	Angle    *float64 `json:"angle,omitempty"`    // degrees, in place
}

// OrderSpeed, OrderPosition and OrderAngle build single-field orders.
func OrderSpeed(mmPerSec float64) Order { return Order{Speed: &mmPerSec} }
func OrderPosition(mm float64) Order    { return Order{Position: &mm} }
func OrderAngle(deg float64) Order      { return Order{Angle: &deg} }

// IsStop reports whether no field is set.
func (o Order) IsStop() bool { return o.Speed == nil && o.Position == nil && o.Angle == nil }

// Validate checks that at most one finite field is set.
func (o Order) Validate() error {
	n := 0
	for _, f := range []struct {
		name string
		v    *float64
	}{{"speed", o.Speed}, {"position", o.Position}, {"angle", o.Angle}} {
		if f.v == nil {
			continue
		}
		n++
		if math.IsNaN(*f.v) || math.IsInf(*f.v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidOrder, f.name)
		}
	}
	if n > 1 {
		return fmt.Errorf("%w: %d of speed, position and angle set", ErrInvalidOrder, n)
	}
	return nil
}

func (o Order) String() string {
	switch {
	case o.Speed != nil:
		return fmt.Sprintf("speed %.1f mm/s", *o.Speed)
	case o.Position != nil:
		return fmt.Sprintf("position %.1f mm", *o.Position)
	case o.Angle != nil:
		return fmt.Sprintf("angle %.1f deg", *o.Angle)
	}
	return "stop"
}
