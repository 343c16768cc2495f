//go:build !linux

package main

import (
	"fmt"

	"github.com/basket/slipterm/internal/tunnel"
)

// openTunDevice has no non-Linux implementation: the kernel TUN ioctl
// surface this module's Device is grounded on is Linux-specific, and no
// portable TUN library appears anywhere in the example corpus.
func openTunDevice(name string) (tunnel.Device, error) {
	return nil, &tunnel.SetupError{Interface: name, Hint: "TUN bridge is only implemented on Linux", Err: fmt.Errorf("unsupported platform")}
}
