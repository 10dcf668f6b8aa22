package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/notnil/canmotion/canbus"
)

// ErrMalformedFrame is returned when a frame of a known kind carries a
// payload whose length does not match the kind's layout.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

// Message is a typed payload. All multi-byte fields are little-endian.
type Message interface {
	Kind() Kind
	MarshalPayload() []byte
}

// payloadUnmarshaler is implemented by pointers to every Message type.
type payloadUnmarshaler interface {
	UnmarshalPayload(p []byte) error
}

// MoveType selects what a move order drives.
type MoveType uint8

const (
	MoveTranslate MoveType = 0
	MoveRotate    MoveType = 1
)

// Mode is the motion control loop bitmask.
type Mode uint8

const (
	ModeSpeedLoop       Mode = 1 << 0
	ModeTranslationLoop Mode = 1 << 1
	ModeRotationLoop    Mode = 1 << 2

	ModeSpeed       = ModeSpeedLoop
	ModeTranslation = ModeSpeedLoop | ModeTranslationLoop
	ModeRotation    = ModeSpeedLoop | ModeRotationLoop
	ModeAll         = ModeSpeedLoop | ModeTranslationLoop | ModeRotationLoop
)

// Controller is the board-local id of one PID controller.
type Controller uint8

const (
	ControllerLeftSpeed     Controller = 0
	ControllerRightSpeed    Controller = 1
	ControllerLeftPosition  Controller = 2
	ControllerRightPosition Controller = 3
)

// Term names one PID coefficient.
type Term uint8

const (
	TermP Term = iota
	TermI
	TermD
)

func (t Term) String() string {
	switch t {
	case TermP:
		return "p"
	case TermI:
		return "i"
	case TermD:
		return "d"
	}
	return fmt.Sprintf("term(%d)", uint8(t))
}

// GainScale is the fixed-point scale of gain coefficients.
const GainScale = 65535

// EncodeGain converts a coefficient to fixed point, rounding to nearest.
func EncodeGain(coef float64) (uint32, error) {
	if math.IsNaN(coef) || math.IsInf(coef, 0) || coef < 0 {
		return 0, fmt.Errorf("protocol: gain must be finite and non-negative, got %v", coef)
	}
	v := math.Round(coef * GainScale)
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("protocol: gain %v overflows fixed point", coef)
	}
	return uint32(v), nil
}

// DecodeGain converts a fixed-point gain back to a coefficient.
func DecodeGain(v uint32) float64 { return float64(v) / GainScale }

// Stop halts the robot on the spot and clears controller errors.
type Stop struct{}

// BoardStatus is a stop-class report from a board. Its payload is board
// specific and kept opaque.
type BoardStatus struct{ Data []byte }

// Move orders a relative move of Ticks.
type Move struct {
	Type  MoveType
	Ticks int32
}

// EncoderPosition carries absolute wheel positions in ticks.
type EncoderPosition struct{ Left, Right int32 }

// SpeedOrder sets constant wheel speeds in ticks per second.
type SpeedOrder struct{ Left, Right int32 }

// Debug carries two diagnostic words.
type Debug struct{ A, B int32 }

// Heartbeat is a board liveness beacon with an opaque payload.
type Heartbeat struct{ Data []byte }

// Limits caps speeds and acceleration, in ticks.
type Limits struct {
	TranslationSpeed uint16
	RotationSpeed    uint16
	WheelSpeed       uint16
	WheelAccel       uint16
}

// SetGain programs one coefficient of one controller.
type SetGain struct {
	Term       Term
	Controller Controller
	Value      uint32
}

// ModeSelect enables motion control loops.
type ModeSelect struct{ Mode Mode }

// Raw holds a frame of a kind without a defined layout.
type Raw struct {
	K    Kind
	Data []byte
}

func (Stop) Kind() Kind            { return KindStop }
func (BoardStatus) Kind() Kind     { return KindBoardStatus }
func (Move) Kind() Kind            { return KindMove }
func (EncoderPosition) Kind() Kind { return KindEncoder }
func (SpeedOrder) Kind() Kind      { return KindSpeed }
func (Debug) Kind() Kind           { return KindDebug }
func (Heartbeat) Kind() Kind       { return KindHeartbeat }
func (Limits) Kind() Kind          { return KindLimits }
func (ModeSelect) Kind() Kind      { return KindMode }
func (r Raw) Kind() Kind           { return r.K }

func (g SetGain) Kind() Kind {
	switch g.Term {
	case TermI:
		return KindSetI
	case TermD:
		return KindSetD
	}
	return KindSetP
}

func (Stop) MarshalPayload() []byte          { return nil }
func (s BoardStatus) MarshalPayload() []byte { return clip(s.Data) }
func (h Heartbeat) MarshalPayload() []byte   { return clip(h.Data) }
func (r Raw) MarshalPayload() []byte         { return clip(r.Data) }

func (m Move) MarshalPayload() []byte {
	p := make([]byte, 5)
	p[0] = byte(m.Type)
	binary.LittleEndian.PutUint32(p[1:], uint32(m.Ticks))
	return p
}

func (e EncoderPosition) MarshalPayload() []byte { return pair(e.Left, e.Right) }
func (s SpeedOrder) MarshalPayload() []byte      { return pair(s.Left, s.Right) }
func (d Debug) MarshalPayload() []byte           { return pair(d.A, d.B) }

func (l Limits) MarshalPayload() []byte {
	p := make([]byte, 8)
	binary.LittleEndian.PutUint16(p[0:], l.TranslationSpeed)
	binary.LittleEndian.PutUint16(p[2:], l.RotationSpeed)
	binary.LittleEndian.PutUint16(p[4:], l.WheelSpeed)
	binary.LittleEndian.PutUint16(p[6:], l.WheelAccel)
	return p
}

func (g SetGain) MarshalPayload() []byte {
	p := make([]byte, 5)
	p[0] = byte(g.Controller)
	binary.LittleEndian.PutUint32(p[1:], g.Value)
	return p
}

func (m ModeSelect) MarshalPayload() []byte { return []byte{byte(m.Mode)} }

func (s *Stop) UnmarshalPayload(p []byte) error { return wantLen(KindStop, p, 0) }

func (s *BoardStatus) UnmarshalPayload(p []byte) error {
	s.Data = append([]byte(nil), p...)
	return nil
}

func (h *Heartbeat) UnmarshalPayload(p []byte) error {
	h.Data = append([]byte(nil), p...)
	return nil
}

func (m *Move) UnmarshalPayload(p []byte) error {
	if err := wantLen(KindMove, p, 5); err != nil {
		return err
	}
	m.Type = MoveType(p[0])
	m.Ticks = int32(binary.LittleEndian.Uint32(p[1:]))
	return nil
}

func (e *EncoderPosition) UnmarshalPayload(p []byte) (err error) {
	e.Left, e.Right, err = unpair(KindEncoder, p)
	return err
}

func (s *SpeedOrder) UnmarshalPayload(p []byte) (err error) {
	s.Left, s.Right, err = unpair(KindSpeed, p)
	return err
}

func (d *Debug) UnmarshalPayload(p []byte) (err error) {
	d.A, d.B, err = unpair(KindDebug, p)
	return err
}

func (l *Limits) UnmarshalPayload(p []byte) error {
	if err := wantLen(KindLimits, p, 8); err != nil {
		return err
	}
	l.TranslationSpeed = binary.LittleEndian.Uint16(p[0:])
	l.RotationSpeed = binary.LittleEndian.Uint16(p[2:])
	l.WheelSpeed = binary.LittleEndian.Uint16(p[4:])
	l.WheelAccel = binary.LittleEndian.Uint16(p[6:])
	return nil
}

// UnmarshalPayload fills Controller and Value. Term comes from the frame
// kind and is set by Decode.
func (g *SetGain) UnmarshalPayload(p []byte) error {
	if err := wantLen(g.Kind(), p, 5); err != nil {
		return err
	}
	g.Controller = Controller(p[0])
	g.Value = binary.LittleEndian.Uint32(p[1:])
	return nil
}

func (m *ModeSelect) UnmarshalPayload(p []byte) error {
	if err := wantLen(KindMode, p, 1); err != nil {
		return err
	}
	m.Mode = Mode(p[0])
	return nil
}

func pair(a, b int32) []byte {
	p := make([]byte, 8)
	binary.LittleEndian.PutUint32(p[0:], uint32(a))
	binary.LittleEndian.PutUint32(p[4:], uint32(b))
	return p
}

func unpair(k Kind, p []byte) (int32, int32, error) {
	if err := wantLen(k, p, 8); err != nil {
		return 0, 0, err
	}
	return int32(binary.LittleEndian.Uint32(p[0:])), int32(binary.LittleEndian.Uint32(p[4:])), nil
}

func wantLen(k Kind, p []byte, n int) error {
	if len(p) != n {
		return fmt.Errorf("%w: %s payload is %d bytes, want %d", ErrMalformedFrame, k, len(p), n)
	}
	return nil
}

func clip(p []byte) []byte {
	if len(p) > 8 {
		return p[:8]
	}
	return p
}

// Encode builds the frame carrying msg from channel ch to or from board b.
func Encode(ch Channel, b Board, msg Message) (canbus.Frame, error) {
	id := ID{Channel: ch, Kind: msg.Kind(), Board: b}
	if err := id.Validate(); err != nil {
		return canbus.Frame{}, err
	}
	return canbus.NewFrame(id.Encode(), msg.MarshalPayload())
}

// EncodeMotor builds a frame addressed to the motion board.
func EncodeMotor(msg Message) (canbus.Frame, error) {
	return Encode(ChannelMotor, BoardMotor, msg)
}

// Decode parses a standard data frame. Kinds without a defined layout come
// back as Raw. A known kind with the wrong payload length yields an error
// wrapping ErrMalformedFrame together with the parsed ID.
func Decode(f canbus.Frame) (ID, Message, error) {
	if f.Extended || f.RTR {
		return ID{}, nil, fmt.Errorf("%w: %s is not a standard data frame", ErrMalformedFrame, f)
	}
	id, err := ParseID(f.ID)
	if err != nil {
		return ID{}, nil, err
	}
	p := f.Payload()
	var msg Message
	switch id.Kind {
	case KindStop:
		var m Stop
		err = m.UnmarshalPayload(p)
		msg = m
	case KindBoardStatus:
		var m BoardStatus
		err = m.UnmarshalPayload(p)
		msg = m
	case KindMove:
		var m Move
		err = m.UnmarshalPayload(p)
		msg = m
	case KindEncoder:
		var m EncoderPosition
		err = m.UnmarshalPayload(p)
		msg = m
	case KindSpeed:
		var m SpeedOrder
		err = m.UnmarshalPayload(p)
		msg = m
	case KindDebug:
		var m Debug
		err = m.UnmarshalPayload(p)
		msg = m
	case KindHeartbeat:
		var m Heartbeat
		err = m.UnmarshalPayload(p)
		msg = m
	case KindLimits:
		var m Limits
		err = m.UnmarshalPayload(p)
		msg = m
	case KindSetP, KindSetI, KindSetD:
		m := SetGain{Term: Term(id.Kind - KindSetP)}
		err = m.UnmarshalPayload(p)
		msg = m
	case KindMode:
		var m ModeSelect
		err = m.UnmarshalPayload(p)
		msg = m
	default:
		msg = Raw{K: id.Kind, Data: append([]byte(nil), p...)}
	}
	if err != nil {
		return id, nil, err
	}
	return id, msg, nil
}

var (
	_ payloadUnmarshaler = (*Stop)(nil)
	_ payloadUnmarshaler = (*BoardStatus)(nil)
	_ payloadUnmarshaler = (*Move)(nil)
	_ payloadUnmarshaler = (*EncoderPosition)(nil)
	_ payloadUnmarshaler = (*SpeedOrder)(nil)
	_ payloadUnmarshaler = (*Debug)(nil)
	_ payloadUnmarshaler = (*Heartbeat)(nil)
	_ payloadUnmarshaler = (*Limits)(nil)
	_ payloadUnmarshaler = (*SetGain)(nil)
	_ payloadUnmarshaler = (*ModeSelect)(nil)
)
