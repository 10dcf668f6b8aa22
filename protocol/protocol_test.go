package protocol

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notnil/canmotion/canbus"
)

func TestIDRoundTripExhaustive(t *testing.T) {
	for ch := Channel(0); ch <= chanMask; ch++ {
		for k := Kind(0); k <= kindMask; k++ {
			for b := Board(0); b <= boardMask; b++ {
				id := ID{Channel: ch, Kind: k, Board: b}
				require.NoError(t, id.Validate())
				raw := id.Encode()
				require.LessOrEqual(t, raw, uint32(0x7FF))
				got, err := ParseID(raw)
				require.NoError(t, err)
				require.Equal(t, id, got)
			}
		}
	}
	_, err := ParseID(0x800)
	assert.Error(t, err)
	assert.Error(t, ID{Kind: 32}.Validate())
}

func TestMotorIDs(t *testing.T) {
	assert.Equal(t, uint32(0x03F), MotorID(KindEncoder).Encode())
	assert.Equal(t, uint32(0x00F), MotorID(KindStop).Encode())
	assert.Equal(t, uint32(0x17F), MotorID(KindMode).Encode())
	assert.Equal(t, "encoder@15/0", MotorID(KindEncoder).String())
}

func TestEncodeDecodeMessages(t *testing.T) {
	msgs := []Message{
		Stop{},
		Move{Type: MoveRotate, Ticks: -2959},
		EncoderPosition{Left: 1, Right: -1},
		SpeedOrder{Left: 2076, Right: 2076},
		Debug{A: 7, B: 8},
		Limits{TranslationSpeed: 1, RotationSpeed: 2, WheelSpeed: 3, WheelAccel: 65535},
		SetGain{Term: TermD, Controller: ControllerRightSpeed, Value: 32768},
		ModeSelect{Mode: ModeAll},
		Heartbeat{Data: []byte{1}},
		BoardStatus{Data: []byte{0xE1}},
	}
	for _, m := range msgs {
		f, err := EncodeMotor(m)
		require.NoError(t, err, "%T", m)
		id, got, err := Decode(f)
		require.NoError(t, err, "%T", m)
		assert.Equal(t, MotorID(m.Kind()), id)
		assert.Equal(t, m, got)
	}
}

func TestPayloadLayouts(t *testing.T) {
	f, err := EncodeMotor(SetGain{Term: TermP, Controller: ControllerLeftPosition, Value: 32768})
	require.NoError(t, err)
	assert.Equal(t, MotorID(KindSetP).Encode(), f.ID)
	assert.Equal(t, []byte{2, 0x00, 0x80, 0x00, 0x00}, f.Payload())

	f, err = EncodeMotor(Move{Type: MoveTranslate, Ticks: -1})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0xFF, 0xFF, 0xFF, 0xFF}, f.Payload())

	f, err = EncodeMotor(ModeSelect{Mode: ModeSpeed})
	require.NoError(t, err)
	assert.Equal(t, []byte{0b001}, f.Payload())

	assert.Equal(t, Mode(0b011), ModeTranslation)
	assert.Equal(t, Mode(0b101), ModeRotation)
	assert.Equal(t, Mode(0b111), ModeAll)
}

func TestDecodeMalformedAndUnknown(t *testing.T) {
	short := canbus.MustFrame(MotorID(KindEncoder).Encode(), []byte{1, 2, 3})
	id, _, err := Decode(short)
	assert.True(t, errors.Is(err, ErrMalformedFrame))
	assert.Equal(t, KindEncoder, id.Kind)

	withData := canbus.MustFrame(MotorID(KindStop).Encode(), []byte{1})
	_, _, err = Decode(withData)
	assert.True(t, errors.Is(err, ErrMalformedFrame))

	unknown := canbus.MustFrame(ID{Kind: 0b01000, Board: 3}.Encode(), []byte{9, 9})
	id, msg, err := Decode(unknown)
	require.NoError(t, err)
	assert.False(t, id.Kind.Known())
	assert.Equal(t, Raw{K: 0b01000, Data: []byte{9, 9}}, msg)

	ext := canbus.Frame{ID: 0x3F, Extended: true}
	_, _, err = Decode(ext)
	assert.True(t, errors.Is(err, ErrMalformedFrame))
}

func TestGainFixedPoint(t *testing.T) {
	v, err := EncodeGain(0.5)
	require.NoError(t, err)
	assert.Equal(t, uint32(32768), v)

	for i := 0; i <= 1000; i++ {
		coef := float64(i) / 1000
		v, err := EncodeGain(coef)
		require.NoError(t, err)
		assert.LessOrEqual(t, math.Abs(float64(v)-coef*GainScale), 0.5)
		assert.LessOrEqual(t, math.Abs(DecodeGain(v)-coef), 1.0/GainScale)
	}
	for _, bad := range []float64{-0.1, math.NaN(), math.Inf(1), 1e6} {
		_, err := EncodeGain(bad)
		assert.Error(t, err, "%v", bad)
	}
}

func TestFilters(t *testing.T) {
	enc := canbus.MustFrame(MotorID(KindEncoder).Encode(), make([]byte, 8))
	other := canbus.MustFrame(ID{Kind: KindEncoder, Board: 2}.Encode(), make([]byte, 8))
	status := canbus.MustFrame(ID{Kind: KindBoardStatus, Board: 4}.Encode(), nil)
	stop := canbus.MustFrame(MotorID(KindStop).Encode(), nil)

	assert.True(t, ByKind(KindEncoder)(enc))
	assert.True(t, ByKind(KindEncoder)(other))
	assert.False(t, ByKind(KindEncoder)(status))
	assert.True(t, ByMessage(KindEncoder)(enc))
	assert.False(t, ByMessage(KindEncoder)(other))
	assert.True(t, ByMessage(KindDebug, KindEncoder)(enc))
	assert.False(t, ByMessage(KindDebug, KindEncoder)(stop))
	assert.True(t, FromBoard(ChannelMotor, BoardMotor)(stop))
	assert.False(t, FromBoard(ChannelMotor, BoardMotor)(status))
	assert.True(t, StopClass()(status))
	assert.True(t, StopClass()(stop))
	assert.False(t, StopClass()(enc))
}

func TestSubscribeHeartbeats(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	bus := canbus.NewLoopbackBus()
	defer bus.Close()
	mux := canbus.NewMux(ctx, bus.Open())
	defer mux.Close()

	board := BoardMotor
	events, stop := SubscribeHeartbeats(mux, &board, 4)
	defer stop()

	tx := bus.Open()
	defer tx.Close()
	for _, b := range []Board{3, BoardMotor} {
		f, err := Encode(ChannelMotor, b, Heartbeat{Data: []byte{byte(b)}})
		require.NoError(t, err)
		require.NoError(t, tx.Send(ctx, f))
	}
	select {
	case ev := <-events:
		assert.Equal(t, BoardMotor, ev.ID.Board)
		assert.Equal(t, []byte{15}, ev.Data)
	case <-ctx.Done():
		t.Fatal("no heartbeat")
	}
}
