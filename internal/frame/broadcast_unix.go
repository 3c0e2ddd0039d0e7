//go:build !windows

package frame

import (
	"net"

	"golang.org/x/sys/unix"
)

// enableBroadcast sets SO_BROADCAST on conn's underlying socket. Go's net
// package has no portable API for this option, so it is reached through
// SyscallConn — the same escape hatch used throughout the pack wherever a
// socket option isn't exposed by net itself.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var setErr error
	if err := raw.Control(func(fd uintptr) {
		setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return setErr
}
