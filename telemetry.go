package canmotion

import (
	"github.com/notnil/canmotion/canbus"
	"github.com/notnil/canmotion/protocol"
)

// handleFrame is called by the listener for encoder and debug frames from
// the motion board and every stop-class frame from any board.
func (a *Adapter) handleFrame(f canbus.Frame) {
	id, err := protocol.ParseID(f.ID)
	if err != nil || f.Extended {
		return
	}
	if id.Kind.StopClass() {
		// Not decoded further. Our own stop frames come back here too.
		if id.Kind == protocol.KindStop {
			a.log.Info("stop frame on bus", "board", id.Board, "frame", f.String())
		} else {
			a.log.Warn("board status report", "board", id.Board, "frame", f.String())
		}
		return
	}
	_, msg, err := protocol.Decode(f)
	if err != nil {
		a.log.Warn("dropping malformed frame", "frame", f.String(), "error", err)
		return
	}
	switch m := msg.(type) {
	case protocol.EncoderPosition:
		a.onEncoder(m)
	case protocol.Debug:
		a.log.Debug("board debug", "a", m.A, "b", m.B)
	default:
		a.log.Debug("ignoring frame", "id", id.String(), "frame", f.String())
	}
}

// onEncoder turns one encoder frame into four samples.
func (a *Adapter) onEncoder(m protocol.EncoderPosition) {
	now := a.clock.Now()
	ticks := [2]int32{m.Left, m.Right}

	a.mu.Lock()
	st := &a.st
	rate := a.rate
	if a.measure && st.primed {
		if dt := now.Sub(st.lastAt).Seconds(); dt > 0 {
			rate = 1 / dt
		}
	}
	var pos, speed [2]float64
	for w := range ticks {
		mm := a.conv.TickToMM(float64(ticks[w]))
		v := 0.0
		if st.primed {
			v = (mm - a.conv.TickToMM(float64(st.last[w]))) * rate
		}
		st.windows[w].push(v)
		speed[w] = st.windows[w].mean()
		pos[w] = mm - a.conv.TickToMM(float64(st.baseline[w]))
	}
	st.last = ticks
	st.lastAt = now
	st.primed = true
	spL, spR := st.wheelSetpoints()
	speedSP := st.speedSP
	a.mu.Unlock()

	a.sink.Push(Sample{Channel: LeftPosition, Time: now, Measured: pos[left], Setpoint: spL})
	a.sink.Push(Sample{Channel: RightPosition, Time: now, Measured: pos[right], Setpoint: spR})
	a.sink.Push(Sample{Channel: LeftSpeed, Time: now, Measured: speed[left], Setpoint: speedSP})
	a.sink.Push(Sample{Channel: RightSpeed, Time: now, Measured: speed[right], Setpoint: speedSP})
}
