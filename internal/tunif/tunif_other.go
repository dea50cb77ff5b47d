//go:build !linux

package tunif

import "errors"

// Device is an unimplemented stand-in on non-Linux platforms: TUN
// devices are Linux-specific, and this stack only ever runs against one.
type Device struct{}

// Open always fails on non-Linux platforms.
func Open(name string) (*Device, error) {
	return nil, errors.New("tunif: TUN devices are only supported on linux")
}

func (d *Device) Name() string              { return "" }
func (d *Device) Read(b []byte) (int, error)  { return 0, errors.New("tunif: unsupported platform") }
func (d *Device) Write(b []byte) (int, error) { return 0, errors.New("tunif: unsupported platform") }
func (d *Device) Close() error                { return nil }
