package units

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustConverter(t *testing.T) Converter {
	t.Helper()
	c, err := NewConverter(DefaultGeometry())
	require.NoError(t, err)
	return c
}

func TestMMTickRoundTrip(t *testing.T) {
	c := mustConverter(t)
	for _, x := range []float64{0, 1, -1, 0.25, 200, -1234.5, 1e6} {
		assert.InDelta(t, x, c.TickToMM(c.MMToTick(x)), 1e-9*math.Max(1, math.Abs(x)), "x=%v", x)
	}
}

func TestSpeedToTicks(t *testing.T) {
	c := mustConverter(t)
	ticks, err := RoundInt32(c.MMToTick(200))
	require.NoError(t, err)
	// 200 * 2400 / (pi * 73.6) = 2075.93
	assert.Equal(t, int32(2076), ticks)
}

func TestWheelTravel(t *testing.T) {
	c := mustConverter(t)
	assert.InDelta(t, 285.1, c.WheelTravelMM(90), 0.05)
	assert.InDelta(t, -285.1, c.WheelTravelMM(-90), 0.05)
	assert.Zero(t, c.WheelTravelMM(0))
}

func TestGeometryValidate(t *testing.T) {
	require.NoError(t, DefaultGeometry().Validate())
	bad := []Geometry{
		{WheelDiameterMM: 0, TicksPerRev: 2400, TrackWidthMM: 363},
		{WheelDiameterMM: 73.6, TicksPerRev: -1, TrackWidthMM: 363},
		{WheelDiameterMM: 73.6, TicksPerRev: 2400, TrackWidthMM: math.NaN()},
		{WheelDiameterMM: math.Inf(1), TicksPerRev: 2400, TrackWidthMM: 363},
	}
	for _, g := range bad {
		_, err := NewConverter(g)
		assert.Error(t, err, "%+v", g)
	}
}

func TestIntegerRanges(t *testing.T) {
	v, err := RoundInt32(-2.5)
	require.NoError(t, err)
	assert.Equal(t, int32(-3), v)

	_, err = RoundInt32(math.MaxInt32 + 1.0)
	assert.True(t, errors.Is(err, ErrOutOfRange))
	_, err = RoundInt32(math.NaN())
	assert.True(t, errors.Is(err, ErrOutOfRange))

	u, err := TruncUint16(65535.9)
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), u)
	_, err = TruncUint16(65536)
	assert.True(t, errors.Is(err, ErrOutOfRange))
	_, err = TruncUint16(-1)
	assert.True(t, errors.Is(err, ErrOutOfRange))
}
