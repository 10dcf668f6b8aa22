//go:build linux

package canbus

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"syscall"
	"unsafe"
)

// Interface flag helpers. Changing flags or CAN parameters requires
// CAP_NET_ADMIN; without it the kernel answers EPERM.

const (
	ifNameSize   = 16     // IFNAMSIZ
	siocGIFFlags = 0x8913 // SIOCGIFFLAGS
	siocSIFFlags = 0x8914 // SIOCSIFFLAGS
	iffUp        = 0x1    // IFF_UP
)

// ifreqFlags is the flags variant of struct ifreq (40 bytes on 64-bit).
type ifreqFlags struct {
	Name  [ifNameSize]byte
	Flags uint16
	_     [22]byte
}

func checkIfName(name string) error {
	if name == "" || len(name) >= ifNameSize {
		return fmt.Errorf("canbus: invalid interface name %q", name)
	}
	return nil
}

func ifFlags(name string, set *uint16) (uint16, error) {
	if err := checkIfName(name); err != nil {
		return 0, err
	}
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_DGRAM, 0)
	if err != nil {
		return 0, err
	}
	defer syscall.Close(fd)
	var ifr ifreqFlags
	copy(ifr.Name[:], name)
	req := uintptr(siocGIFFlags)
	if set != nil {
		ifr.Flags = *set
		req = siocSIFFlags
	}
	if _, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), req, uintptr(unsafe.Pointer(&ifr))); errno != 0 {
		return 0, RequireNetAdmin(errno)
	}
	return ifr.Flags, nil
}

// IsInterfaceUp reports whether IFF_UP is set on name.
func IsInterfaceUp(name string) (bool, error) {
	flags, err := ifFlags(name, nil)
	if err != nil {
		return false, err
	}
	return flags&iffUp != 0, nil
}

// SetInterfaceUp sets IFF_UP on name.
func SetInterfaceUp(name string) error { return toggleUp(name, true) }

// SetInterfaceDown clears IFF_UP on name.
func SetInterfaceDown(name string) error { return toggleUp(name, false) }

func toggleUp(name string, up bool) error {
	flags, err := ifFlags(name, nil)
	if err != nil {
		return err
	}
	if (flags&iffUp != 0) == up {
		return nil
	}
	if up {
		flags |= iffUp
	} else {
		flags &^= iffUp
	}
	_, err = ifFlags(name, &flags)
	return err
}

// RequireNetAdmin annotates EPERM with the capability that is missing.
func RequireNetAdmin(err error) error {
	if errors.Is(err, syscall.EPERM) {
		return fmt.Errorf("operation requires CAP_NET_ADMIN (or root): %w", err)
	}
	return err
}

// LinuxCANOptions holds CAN link parameters applied through iproute2. Zero
// values leave the parameter unchanged.
type LinuxCANOptions struct {
	Bitrate   uint32 // bits per second, e.g. 1000000
	RestartMs uint32 // bus-off auto restart delay
}

// ConfigureLinuxCAN runs `ip link set dev <name> type can ...`. The link
// must be down for bitrate changes to be accepted.
func ConfigureLinuxCAN(name string, opts LinuxCANOptions) error {
	if err := checkIfName(name); err != nil {
		return err
	}
	args := []string{"link", "set", "dev", name, "type", "can"}
	if opts.Bitrate != 0 {
		args = append(args, "bitrate", strconv.FormatUint(uint64(opts.Bitrate), 10))
	}
	if opts.RestartMs != 0 {
		args = append(args, "restart-ms", strconv.FormatUint(uint64(opts.RestartMs), 10))
	}
	if len(args) == 6 {
		return nil
	}
	out, err := exec.Command("ip", args...).CombinedOutput()
	if err != nil {
		return RequireNetAdmin(fmt.Errorf("ip link set type can: %w; output: %s", err, out))
	}
	return nil
}

// BringUp takes name down, applies opts and brings it back up.
func BringUp(name string, opts LinuxCANOptions) error {
	if err := SetInterfaceDown(name); err != nil {
		return err
	}
	if err := ConfigureLinuxCAN(name, opts); err != nil {
		return err
	}
	return SetInterfaceUp(name)
}
