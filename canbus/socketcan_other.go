//go:build !linux

package canbus

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by the SocketCAN helpers off Linux.
var ErrUnsupported = errors.New("canbus: socketcan is only available on linux")

// LinuxCANOptions holds CAN link parameters applied through iproute2.
type LinuxCANOptions struct {
	Bitrate   uint32
	RestartMs uint32
}

func DialSocketCAN(string) (Bus, error) { return nil, ErrUnsupported }

func SocketCANDialer(string) Dialer {
	return DialerFunc(func(context.Context) (Bus, error) { return nil, ErrUnsupported })
}

func BringUp(string, LinuxCANOptions) error { return ErrUnsupported }
