package protocol

import "github.com/notnil/canmotion/canbus"

// ByKind matches standard data frames of kind k from any board.
func ByKind(k Kind) canbus.FrameFilter {
	return canbus.And(
		canbus.And(canbus.StandardOnly(), canbus.DataOnly()),
		canbus.ByMask(uint32(k)<<kindShift, kindMask<<kindShift),
	)
}

// FromBoard matches standard frames of any kind on channel ch and board b.
func FromBoard(ch Channel, b Board) canbus.FrameFilter {
	want := ID{Channel: ch, Board: b}.Encode()
	return canbus.And(canbus.StandardOnly(), canbus.ByMask(want, chanMask<<chanShift|boardMask))
}

// ByMessage matches frames with the exact identifier of any of kinds on the
// motion board.
func ByMessage(kinds ...Kind) canbus.FrameFilter {
	ids := make([]uint32, len(kinds))
	for i, k := range kinds {
		ids[i] = MotorID(k).Encode()
	}
	return canbus.And(canbus.StandardOnly(), canbus.ByIDs(ids...))
}

// StopClass matches stop and board-status frames from any board.
func StopClass() canbus.FrameFilter {
	return canbus.Or(ByKind(KindStop), ByKind(KindBoardStatus))
}
