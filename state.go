package canmotion

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Mode is the adapter's active setpoint mode.
type Mode uint8

const (
	ModeStopped Mode = iota
	ModeSpeed
	ModePosition
	ModeRotation
)

func (m Mode) String() string {
	switch m {
	case ModeStopped:
		return "stopped"
	case ModeSpeed:
		return "speed"
	case ModePosition:
		return "position"
	case ModeRotation:
		return "rotation"
	}
	return "unknown"
}

const (
	left = iota
	right
)

// State is a snapshot of the adapter's command and odometry state.
type State struct {
	Mode             Mode
	SpeedSetpoint    float64  // mm/s
	PositionSetpoint *float64 // mm, only in ModePosition
	RotationSetpoint *float64 // mm of wheel travel, only in ModeRotation
	BaselineTicks    [2]int32 // left, right
	LastTicks        [2]int32 // left, right
	Primed           bool     // an encoder frame has been seen
	Windows          [2][]float64
}

type state struct {
	mode       Mode
	speedSP    float64
	positionSP *float64
	rotationSP *float64
	baseline   [2]int32
	last       [2]int32
	lastAt     time.Time
	primed     bool
	windows    [2]*window
}

func newState(depth int) state {
	return state{windows: [2]*window{newWindow(depth), newWindow(depth)}}
}

// clearSetpoints drops every setpoint but keeps odometry.
func (s *state) clearSetpoints() {
	s.mode = ModeStopped
	s.speedSP = 0
	s.positionSP = nil
	s.rotationSP = nil
}

func (s *state) snapshot() State {
	out := State{
		Mode:          s.mode,
		SpeedSetpoint: s.speedSP,
		BaselineTicks: s.baseline,
		LastTicks:     s.last,
		Primed:        s.primed,
	}
	if s.positionSP != nil {
		v := *s.positionSP
		out.PositionSetpoint = &v
	}
	if s.rotationSP != nil {
		v := *s.rotationSP
		out.RotationSetpoint = &v
	}
	for i, w := range s.windows {
		out.Windows[i] = append([]float64(nil), w.values...)
	}
	return out
}

// wheelSetpoints returns the position each wheel is expected to reach.
func (s *state) wheelSetpoints() (l, r float64) {
	switch {
	case s.mode == ModePosition && s.positionSP != nil:
		return *s.positionSP, *s.positionSP
	case s.mode == ModeRotation && s.rotationSP != nil:
		return -*s.rotationSP, *s.rotationSP
	}
	return 0, 0
}

// window is a fixed-depth FIFO of speed samples.
type window struct {
	depth  int
	values []float64
}

func newWindow(depth int) *window {
	return &window{depth: depth, values: make([]float64, 0, depth)}
}

func (w *window) push(v float64) {
	if len(w.values) == w.depth {
		copy(w.values, w.values[1:])
		w.values = w.values[:w.depth-1]
	}
	w.values = append(w.values, v)
}

func (w *window) mean() float64 {
	if len(w.values) == 0 {
		return 0
	}
	return stat.Mean(w.values, nil)
}

// Snapshot returns a copy of the current state.
func (a *Adapter) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.snapshot()
}
