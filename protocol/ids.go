package protocol

import "fmt"

// Field widths of the 11-bit arbitration identifier:
// channel(2) << 9 | kind(5) << 4 | board(4).
const (
	boardBits = 4
	kindBits  = 5
	chanBits  = 2

	boardMask = 1<<boardBits - 1
	kindMask  = 1<<kindBits - 1
	chanMask  = 1<<chanBits - 1

	kindShift = boardBits
	chanShift = boardBits + kindBits
)

// Channel selects a logical bus channel.
type Channel uint8

// Board identifies an electronics board.
type Board uint8

const (
	ChannelMotor Channel = 0b00
	BoardMotor   Board   = 15
)

// Kind is the 5-bit message kind.
type Kind uint8

const (
	KindStop        Kind = 0b00000 // stop on the spot, clear controller errors
	KindBoardStatus Kind = 0b00001 // board status or error report
	KindMove        Kind = 0b00010 // relative move: type + ticks
	KindEncoder     Kind = 0b00011 // absolute encoder positions
	KindSpeed       Kind = 0b10000 // constant speed per wheel
	KindDebug       Kind = 0b10001
	KindHeartbeat   Kind = 0b10010
	KindLimits      Kind = 0b10011
	KindSetP        Kind = 0b10100
	KindSetI        Kind = 0b10101
	KindSetD        Kind = 0b10110
	KindMode        Kind = 0b10111
)

var kindNames = map[Kind]string{
	KindStop:        "stop",
	KindBoardStatus: "board-status",
	KindMove:        "move",
	KindEncoder:     "encoder",
	KindSpeed:       "speed",
	KindDebug:       "debug",
	KindHeartbeat:   "heartbeat",
	KindLimits:      "limits",
	KindSetP:        "set-p",
	KindSetI:        "set-i",
	KindSetD:        "set-d",
	KindMode:        "mode",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(0b%05b)", uint8(k))
}

// Known reports whether k has a defined payload layout.
func (k Kind) Known() bool {
	_, ok := kindNames[k]
	return ok
}

// StopClass reports whether k belongs to the stop/status family that boards
// use to report halts and errors.
func (k Kind) StopClass() bool { return k == KindStop || k == KindBoardStatus }

// ID is a decoded arbitration identifier.
type ID struct {
	Channel Channel
	Kind    Kind
	Board   Board
}

// MotorID addresses kind to the motion board.
func MotorID(k Kind) ID { return ID{Channel: ChannelMotor, Kind: k, Board: BoardMotor} }

// Validate checks that every field fits its width.
func (id ID) Validate() error {
	if id.Channel > chanMask || id.Kind > kindMask || id.Board > boardMask {
		return fmt.Errorf("protocol: id field out of range: channel=%d kind=%d board=%d", id.Channel, id.Kind, id.Board)
	}
	return nil
}

// Encode composes the 11-bit identifier. Out-of-range fields are masked;
// call Validate first when the input is untrusted.
func (id ID) Encode() uint32 {
	return uint32(id.Channel&chanMask)<<chanShift |
		uint32(id.Kind&kindMask)<<kindShift |
		uint32(id.Board&boardMask)
}

// ParseID splits an 11-bit identifier into its fields.
func ParseID(raw uint32) (ID, error) {
	if raw > 0x7FF {
		return ID{}, fmt.Errorf("protocol: invalid 11-bit id 0x%X", raw)
	}
	return ID{
		Channel: Channel(raw >> chanShift & chanMask),
		Kind:    Kind(raw >> kindShift & kindMask),
		Board:   Board(raw & boardMask),
	}, nil
}

func (id ID) String() string {
	return fmt.Sprintf("%s@%d/%d", id.Kind, id.Board, id.Channel)
}
