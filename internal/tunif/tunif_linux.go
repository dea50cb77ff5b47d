//go:build linux

// Package tunif opens and drives the Linux TUN device that carries raw
// IPv4 datagrams between this process and the kernel.
package tunif

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Device is an open TUN interface in pure-IP (no link-layer framing)
// mode. Reads and writes exchange whole IPv4 datagrams.
type Device struct {
	fd   int
	name string
}

// Open creates or attaches to the TUN interface named name (e.g. "tun0").
// IFF_NO_PI disables the 4-byte packet-information prefix the kernel
// otherwise prepends, so Read/Write deal in bare IPv4 datagrams as
// required by the wire format.
func Open(name string) (*Device, error) {
	if len(name) >= unix.IFNAMSIZ {
		return nil, fmt.Errorf("tunif: interface name %q too long", name)
	}
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tunif: open /dev/net/tun: %w", err)
	}
	req, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tunif: ifreq: %w", err)
	}
	req.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, req); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tunif: TUNSETIFF: %w", err)
	}
	return &Device{fd: fd, name: req.Name()}, nil
}

// Name returns the kernel-assigned interface name.
func (d *Device) Name() string { return d.name }

// Read reads one IPv4 datagram into b.
func (d *Device) Read(b []byte) (int, error) {
	n, err := unix.Read(d.fd, b)
	if err != nil {
		return n, fmt.Errorf("tunif: read: %w", err)
	}
	return n, nil
}

// Write writes one IPv4 datagram from b.
func (d *Device) Write(b []byte) (int, error) {
	n, err := unix.Write(d.fd, b)
	if err != nil {
		return n, fmt.Errorf("tunif: write: %w", err)
	}
	return n, nil
}

// Close closes the underlying file descriptor.
func (d *Device) Close() error {
	return os.NewSyscallError("close", unix.Close(d.fd))
}
