package canbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Frame is a classical CAN 2.0A/2.0B frame. CAN FD is not supported.
type Frame struct {
	ID       uint32 // 11-bit (std) or 29-bit (ext)
	Extended bool   // 29-bit identifier
	RTR      bool   // remote transmission request
	Len      uint8  // 0..8
	Data     [8]byte
}

const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
)

var (
	ErrInvalidID  = errors.New("canbus: invalid identifier")
	ErrInvalidLen = errors.New("canbus: invalid data length")
)

// Validate reports whether the identifier fits its format and the length is
// at most 8.
func (f Frame) Validate() error {
	if f.Len > 8 {
		return ErrInvalidLen
	}
	max := uint32(MaxStandardID)
	if f.Extended {
		max = MaxExtendedID
	}
	if f.ID > max {
		return ErrInvalidID
	}
	return nil
}

// NewFrame builds a standard-format data frame.
func NewFrame(id uint32, data []byte) (Frame, error) {
	if len(data) > 8 {
		return Frame{}, ErrInvalidLen
	}
	f := Frame{ID: id, Len: uint8(len(data))}
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// MustFrame is NewFrame for literals in tests and examples. Identifiers
// above the standard range produce an extended frame.
func MustFrame(id uint32, data []byte) Frame {
	if len(data) > 8 {
		panic(ErrInvalidLen)
	}
	f := Frame{ID: id, Extended: id > MaxStandardID, Len: uint8(len(data))}
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		panic(err)
	}
	return f
}

// Payload returns the used portion of Data.
func (f Frame) Payload() []byte {
	n := f.Len
	if n > 8 {
		n = 8
	}
	return f.Data[:n]
}

// String renders the frame as "123 [2] DE AD", with an 8-digit identifier
// for extended frames and a trailing RTR marker for remote frames.
func (f Frame) String() string {
	var b strings.Builder
	if f.Extended {
		fmt.Fprintf(&b, "%08X", f.ID)
	} else {
		fmt.Fprintf(&b, "%03X", f.ID)
	}
	fmt.Fprintf(&b, " [%d]", f.Len)
	if f.RTR {
		b.WriteString(" RTR")
		return b.String()
	}
	for _, v := range f.Payload() {
		fmt.Fprintf(&b, " %02X", v)
	}
	return b.String()
}

// SocketCAN can_id flag bits.
const (
	canEffFlag = 0x80000000
	canRtrFlag = 0x40000000
)

// MarshalBinary encodes the frame as a 16-byte Linux "struct can_frame":
// little-endian can_id with EFF/RTR flags, dlc, three pad bytes, data.
func (f Frame) MarshalBinary() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	id := f.ID
	if f.Extended {
		id |= canEffFlag
	}
	if f.RTR {
		id |= canRtrFlag
	}
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = f.Len
	copy(buf[8:16], f.Data[:])
	return buf, nil
}

// UnmarshalBinary decodes a 16-byte Linux can_frame.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < 16 {
		return fmt.Errorf("canbus: need 16 bytes, got %d", len(data))
	}
	id := binary.LittleEndian.Uint32(data[0:4])
	f.Extended = id&canEffFlag != 0
	f.RTR = id&canRtrFlag != 0
	if f.Extended {
		f.ID = id & MaxExtendedID
	} else {
		f.ID = id & MaxStandardID
	}
	f.Len = data[4]
	copy(f.Data[:], data[8:16])
	return f.Validate()
}
