//go:build linux

package canbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"time"
	"unsafe"
)

const (
	afCAN  = 29
	canRaw = 1

	// pollSlice bounds each select(2) wait when ctx carries no deadline so
	// that cancellation is noticed promptly.
	pollSlice = 50 * time.Millisecond
)

// sockaddrCAN mirrors struct sockaddr_can for bind(2).
type sockaddrCAN struct {
	Family  uint16
	_       uint16
	Ifindex int32
	Addr    [8]byte
}

type socketCAN struct {
	fd        int
	file      *os.File
	closeOnce sync.Once
	closed    chan struct{}
}

// DialSocketCAN opens a raw CAN socket bound to iface, e.g. "can0".
func DialSocketCAN(iface string) (Bus, error) {
	netIf, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("canbus: %s: %w", iface, err)
	}
	fd, err := syscall.Socket(afCAN, syscall.SOCK_RAW, canRaw)
	if err != nil {
		return nil, fmt.Errorf("canbus: socket: %w", err)
	}
	sa := sockaddrCAN{Family: afCAN, Ifindex: int32(netIf.Index)}
	if _, _, errno := syscall.Syscall(syscall.SYS_BIND, uintptr(fd), uintptr(unsafe.Pointer(&sa)), unsafe.Sizeof(sa)); errno != 0 {
		syscall.Close(fd)
		return nil, fmt.Errorf("canbus: bind %s: %w", iface, errno)
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	return &socketCAN{
		fd:     fd,
		file:   os.NewFile(uintptr(fd), "socketcan:"+iface),
		closed: make(chan struct{}),
	}, nil
}

// SocketCANDialer returns a Dialer opening a new raw socket on iface for
// every Dial.
func SocketCANDialer(iface string) Dialer {
	return DialerFunc(func(ctx context.Context) (Bus, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return DialSocketCAN(iface)
	})
}

func (s *socketCAN) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.file.Close()
	})
	return err
}

func (s *socketCAN) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *socketCAN) Send(ctx context.Context, frame Frame) error {
	buf, err := frame.MarshalBinary()
	if err != nil {
		return err
	}
	for {
		if s.isClosed() {
			return ErrClosed
		}
		n, err := syscall.Write(s.fd, buf)
		switch {
		case err == nil && n != len(buf):
			return errors.New("canbus: short write")
		case err == nil:
			return nil
		case err == syscall.EAGAIN || err == syscall.ENOBUFS:
			if err := s.wait(ctx, false); err != nil {
				return err
			}
		default:
			return err
		}
	}
}

func (s *socketCAN) Receive(ctx context.Context) (Frame, error) {
	buf := make([]byte, 16)
	for {
		if s.isClosed() {
			return Frame{}, ErrClosed
		}
		n, err := syscall.Read(s.fd, buf)
		switch {
		case err == nil && n != len(buf):
			return Frame{}, errors.New("canbus: short read")
		case err == nil:
			var f Frame
			if err := f.UnmarshalBinary(buf); err != nil {
				return Frame{}, err
			}
			return f, nil
		case err == syscall.EAGAIN:
			if err := s.wait(ctx, true); err != nil {
				return Frame{}, err
			}
		default:
			return Frame{}, err
		}
	}
}

// wait blocks until the socket is ready, ctx is done or one poll slice has
// passed. Callers simply retry the syscall.
func (s *socketCAN) wait(ctx context.Context, read bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d := pollSlice
		if deadline, ok := ctx.Deadline(); ok {
			if left := time.Until(deadline); left < d {
				d = left
			}
		}
		if d <= 0 {
			return context.DeadlineExceeded
		}
		tv := syscall.NsecToTimeval(d.Nanoseconds())
		var set syscall.FdSet
		set.Bits[s.fd/64] |= 1 << (uint(s.fd) % 64)
		var err error
		if read {
			_, err = syscall.Select(s.fd+1, &set, nil, nil, &tv)
		} else {
			_, err = syscall.Select(s.fd+1, nil, &set, nil, &tv)
		}
		if err == syscall.EINTR {
			continue
		}
		return err
	}
}
