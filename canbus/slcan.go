package canbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SLCAN speaks the Lawicel ASCII protocol used by USB-to-CAN adapters such
// as the CANable: "t1232ABCD\r" is standard id 0x123 with two bytes.

var ErrSLCANSyntax = errors.New("canbus: malformed slcan line")

// slcanBitrates maps CAN bitrates to the adapter's Sn setup command.
var slcanBitrates = map[uint32]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// EncodeSLCAN renders f as one SLCAN transmit command including the
// trailing carriage return.
func EncodeSLCAN(f Frame) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	var cmd byte
	switch {
	case f.Extended && f.RTR:
		cmd = 'R'
	case f.Extended:
		cmd = 'T'
	case f.RTR:
		cmd = 'r'
	default:
		cmd = 't'
	}
	var s string
	if f.Extended {
		s = fmt.Sprintf("%c%08X%d", cmd, f.ID, f.Len)
	} else {
		s = fmt.Sprintf("%c%03X%d", cmd, f.ID, f.Len)
	}
	if !f.RTR {
		s += fmt.Sprintf("%X", f.Payload())
	}
	return s + "\r", nil
}

// DecodeSLCAN parses one received frame line, without its terminator.
func DecodeSLCAN(line string) (Frame, error) {
	if line == "" {
		return Frame{}, ErrSLCANSyntax
	}
	var f Frame
	idLen := 3
	switch line[0] {
	case 't':
	case 'r':
		f.RTR = true
	case 'T':
		f.Extended, idLen = true, 8
	case 'R':
		f.Extended, f.RTR, idLen = true, true, 8
	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrSLCANSyntax, line)
	}
	if len(line) < 1+idLen+1 {
		return Frame{}, fmt.Errorf("%w: %q", ErrSLCANSyntax, line)
	}
	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %q", ErrSLCANSyntax, line)
	}
	f.ID = uint32(id)
	dlc := line[1+idLen]
	if dlc < '0' || dlc > '8' {
		return Frame{}, fmt.Errorf("%w: %q", ErrSLCANSyntax, line)
	}
	f.Len = dlc - '0'
	data := line[2+idLen:]
	if !f.RTR {
		// Adapters with timestamps enabled append four hex digits.
		if len(data) != 2*int(f.Len) && len(data) != 2*int(f.Len)+4 {
			return Frame{}, fmt.Errorf("%w: %q", ErrSLCANSyntax, line)
		}
		for i := 0; i < int(f.Len); i++ {
			b, err := strconv.ParseUint(data[2*i:2*i+2], 16, 8)
			if err != nil {
				return Frame{}, fmt.Errorf("%w: %q", ErrSLCANSyntax, line)
			}
			f.Data[i] = byte(b)
		}
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// SLCANOptions configures OpenSLCAN.
type SLCANOptions struct {
	Port     string // e.g. /dev/ttyACM0
	BaudRate int    // serial speed, ignored by USB CDC adapters
	Bitrate  uint32 // CAN bitrate, one of the standard SLCAN rates
}

// Normalize fills in defaults.
func (o SLCANOptions) Normalize() SLCANOptions {
	if o.BaudRate == 0 {
		o.BaudRate = 115200
	}
	if o.Bitrate == 0 {
		o.Bitrate = 1000000
	}
	return o
}

// SerialMode returns the serial line settings for the adapter.
func (o SLCANOptions) SerialMode() *serial.Mode {
	o = o.Normalize()
	return &serial.Mode{
		BaudRate: o.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// slcanReadTimeout bounds each serial read so Close is noticed.
const slcanReadTimeout = 100 * time.Millisecond

// OpenSLCAN opens the serial adapter, sets the bitrate and opens the channel.
func OpenSLCAN(opts SLCANOptions) (*SLCAN, error) {
	opts = opts.Normalize()
	if _, ok := slcanBitrates[opts.Bitrate]; !ok {
		return nil, fmt.Errorf("canbus: unsupported slcan bitrate %d", opts.Bitrate)
	}
	port, err := serial.Open(opts.Port, opts.SerialMode())
	if err != nil {
		return nil, fmt.Errorf("canbus: open %s: %w", opts.Port, err)
	}
	if err := port.SetReadTimeout(slcanReadTimeout); err != nil {
		port.Close()
		return nil, err
	}
	s, err := NewSLCAN(port, opts.Bitrate)
	if err != nil {
		port.Close()
		return nil, err
	}
	return s, nil
}

// SLCAN is a Bus over an SLCAN adapter. It owns the port.
type SLCAN struct {
	port io.ReadWriteCloser

	wmu    sync.Mutex
	frames chan Frame
	closed chan struct{}
	once   sync.Once

	portOnce sync.Once

	errMu sync.Mutex
	err   error
}

// NewSLCAN initialises an adapter on an already open port: close any stale
// channel, select the bitrate, open the channel and start reading.
func NewSLCAN(port io.ReadWriteCloser, bitrate uint32) (*SLCAN, error) {
	code, ok := slcanBitrates[bitrate]
	if !ok {
		return nil, fmt.Errorf("canbus: unsupported slcan bitrate %d", bitrate)
	}
	for _, cmd := range []string{"C\r", "S" + string(code) + "\r", "O\r"} {
		if _, err := io.WriteString(port, cmd); err != nil {
			return nil, fmt.Errorf("canbus: slcan setup %q: %w", cmd[:1], err)
		}
	}
	s := &SLCAN{
		port:   port,
		frames: make(chan Frame, 128),
		closed: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *SLCAN) readLoop() {
	buf := make([]byte, 256)
	var line []byte
	for {
		n, err := s.port.Read(buf)
		for _, b := range buf[:n] {
			switch b {
			case '\r':
				s.handleLine(string(line))
				line = line[:0]
			case '\a':
				// Adapter NACK for the last command.
				line = line[:0]
			default:
				line = append(line, b)
			}
		}
		if err != nil {
			s.fail(err)
			return
		}
		select {
		case <-s.closed:
			return
		default:
		}
	}
}

func (s *SLCAN) handleLine(line string) {
	if line == "" || line[0] == 'z' || line[0] == 'Z' {
		return
	}
	f, err := DecodeSLCAN(line)
	if err != nil {
		return
	}
	select {
	case s.frames <- f:
	default:
	}
}

func (s *SLCAN) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.once.Do(func() { close(s.closed) })
}

func (s *SLCAN) Send(ctx context.Context, f Frame) error {
	line, err := EncodeSLCAN(f)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err = io.WriteString(s.port, line)
	return err
}

func (s *SLCAN) Receive(ctx context.Context) (Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.closed:
		s.errMu.Lock()
		defer s.errMu.Unlock()
		if s.err != nil && !errors.Is(s.err, ErrClosed) {
			return Frame{}, s.err
		}
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close closes the CAN channel and the serial port.
func (s *SLCAN) Close() error {
	s.fail(ErrClosed)
	var err error
	s.portOnce.Do(func() {
		s.wmu.Lock()
		_, _ = io.WriteString(s.port, "C\r")
		s.wmu.Unlock()
		err = s.port.Close()
	})
	return err
}
