//go:build linux

package main

import (
	"fmt"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/basket/slipterm/internal/tunnel"
)

// linuxTunDevice is slipterm's one concrete tunnel.Device: a Linux
// /dev/net/tun handle with a self-pipe used to interrupt a blocking
// read, matching the Writer-triggers-interrupt contract the Bridge
// expects. No TUN binding appears anywhere in the example corpus
// this module was grounded on (see tunnel.Device's doc comment), so
// this file is the one place that constructs the interface directly
// against the kernel ioctl surface via golang.org/x/sys/unix, which
// this module already carries as a dependency.
type linuxTunDevice struct {
	fd   int
	name string

	interruptR int
	interruptW int
}

// openTunDevice creates and brings up a TUN (not TAP) interface named
// name. Bringing the link up is delegated to the "ip" command rather
// than a raw netlink socket, the same best-effort shell-out idiom used
// elsewhere in this codebase for terminal state resets.
func openTunDevice(name string) (tunnel.Device, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return nil, &tunnel.SetupError{Interface: name, Hint: "open /dev/net/tun failed, is the tun module loaded?", Err: err}
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, &tunnel.SetupError{Interface: name, Hint: "interface name invalid", Err: err}
	}
	ifr.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, &tunnel.SetupError{Interface: name, Hint: "TUNSETIFF failed, may require elevated privileges", Err: err}
	}

	pipeFDs, err := unixPipe2()
	if err != nil {
		unix.Close(fd)
		return nil, &tunnel.SetupError{Interface: name, Hint: "self-pipe creation failed", Err: err}
	}

	if err := exec.Command("ip", "link", "set", name, "up").Run(); err != nil {
		unix.Close(fd)
		unix.Close(pipeFDs[0])
		unix.Close(pipeFDs[1])
		return nil, &tunnel.SetupError{Interface: name, Hint: "\"ip link set up\" failed, may require elevated privileges", Err: err}
	}

	return &linuxTunDevice{fd: fd, name: name, interruptR: pipeFDs[0], interruptW: pipeFDs[1]}, nil
}

func unixPipe2() ([2]int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		return fds, err
	}
	return fds, nil
}

func (d *linuxTunDevice) Name() string { return d.name }

func (d *linuxTunDevice) RecvIntr(buf []byte) (int, error) {
	pollfds := []unix.PollFd{
		{Fd: int32(d.fd), Events: unix.POLLIN},
		{Fd: int32(d.interruptR), Events: unix.POLLIN},
	}
	for {
		_, err := unix.Poll(pollfds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("tun: poll: %w", err)
		}
		if pollfds[1].Revents&unix.POLLIN != 0 {
			drain := make([]byte, 64)
			unix.Read(d.interruptR, drain)
			return 0, tunnel.ErrInterrupted
		}
		if pollfds[0].Revents&unix.POLLIN != 0 {
			return unix.Read(d.fd, buf)
		}
	}
}

func (d *linuxTunDevice) Send(packet []byte) error {
	_, err := unix.Write(d.fd, packet)
	return err
}

func (d *linuxTunDevice) Interrupt() error {
	_, err := unix.Write(d.interruptW, []byte{1})
	if err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

func (d *linuxTunDevice) Close() error {
	unix.Close(d.interruptR)
	unix.Close(d.interruptW)
	return unix.Close(d.fd)
}
