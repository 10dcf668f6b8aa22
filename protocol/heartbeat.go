package protocol

import (
	"time"

	"github.com/notnil/canmotion/canbus"
)

// HeartbeatEvent is one received heartbeat.
type HeartbeatEvent struct {
	ID   ID
	At   time.Time
	Data []byte
}

// SubscribeHeartbeats delivers heartbeats seen by mux. If board is non-nil
// only that board is reported. The channel closes on cancel or when the mux
// stops; cancel must be called when done.
func SubscribeHeartbeats(mux *canbus.Mux, board *Board, buffer int) (<-chan HeartbeatEvent, func()) {
	filter := ByKind(KindHeartbeat)
	if board != nil {
		filter = canbus.And(filter, canbus.ByMask(uint32(*board), boardMask))
	}
	frames, cancel := mux.Subscribe(filter, buffer)

	out := make(chan HeartbeatEvent, buffer)
	go func() {
		defer close(out)
		for f := range frames {
			id, msg, err := Decode(f)
			if err != nil {
				continue
			}
			hb := msg.(Heartbeat)
			out <- HeartbeatEvent{ID: id, At: time.Now(), Data: hb.Data}
		}
	}()
	return out, cancel
}
