// Package units converts between the robot's physical units and the
// encoder tick domain of the motion board.
package units

import (
	"errors"
	"fmt"
	"math"
)

// ErrOutOfRange is returned when a tick value does not fit its wire type.
var ErrOutOfRange = errors.New("units: value out of range")

// Geometry describes the drive train.
type Geometry struct {
	WheelDiameterMM float64 `yaml:"wheel_diameter_mm" json:"wheel_diameter_mm"`
	TicksPerRev     float64 `yaml:"ticks_per_rev" json:"ticks_per_rev"`
	TrackWidthMM    float64 `yaml:"track_width_mm" json:"track_width_mm"`
}

// DefaultGeometry is the reference robot: 73.6 mm wheels, 2400 ticks per
// wheel turn, 363 mm between the wheels.
func DefaultGeometry() Geometry {
	return Geometry{WheelDiameterMM: 73.6, TicksPerRev: 2400, TrackWidthMM: 363}
}

// Validate checks that every dimension is finite and positive.
func (g Geometry) Validate() error {
	for _, v := range []struct {
		name string
		val  float64
	}{
		{"wheel_diameter_mm", g.WheelDiameterMM},
		{"ticks_per_rev", g.TicksPerRev},
		{"track_width_mm", g.TrackWidthMM},
	} {
		if math.IsNaN(v.val) || math.IsInf(v.val, 0) || v.val <= 0 {
			return fmt.Errorf("units: %s must be a positive number, got %v", v.name, v.val)
		}
	}
	return nil
}

// Converter holds the factors derived from a validated Geometry.
type Converter struct {
	geom     Geometry
	mmToTick float64
	tickToMM float64
}

// NewConverter validates g and derives the conversion factors.
func NewConverter(g Geometry) (Converter, error) {
	if err := g.Validate(); err != nil {
		return Converter{}, err
	}
	circ := math.Pi * g.WheelDiameterMM
	return Converter{
		geom:     g,
		mmToTick: g.TicksPerRev / circ,
		tickToMM: circ / g.TicksPerRev,
	}, nil
}

// Geometry returns the geometry c was built from.
func (c Converter) Geometry() Geometry { return c.geom }

// MMToTick converts a wheel distance (or speed) in mm to ticks.
func (c Converter) MMToTick(mm float64) float64 { return mm * c.mmToTick }

// TickToMM is the inverse of MMToTick.
func (c Converter) TickToMM(ticks float64) float64 { return ticks * c.tickToMM }

// WheelTravelMM is the distance each wheel covers, in opposite directions,
// when the robot turns in place by deg degrees. Positive angles move the
// right wheel forward.
func (c Converter) WheelTravelMM(deg float64) float64 {
	return deg * math.Pi / 180 * c.geom.TrackWidthMM / 2
}

// RoundInt32 rounds ticks to the nearest integer and checks it fits in an
// int32.
func RoundInt32(ticks float64) (int32, error) {
	r := math.Round(ticks)
	if math.IsNaN(r) || r < math.MinInt32 || r > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %v ticks", ErrOutOfRange, ticks)
	}
	return int32(r), nil
}

// TruncUint16 drops the fractional part of ticks and checks the result fits
// in a uint16.
func TruncUint16(ticks float64) (uint16, error) {
	t := math.Trunc(ticks)
	if math.IsNaN(t) || t < 0 || t > math.MaxUint16 {
		return 0, fmt.Errorf("%w: %v ticks", ErrOutOfRange, ticks)
	}
	return uint16(t), nil
}
