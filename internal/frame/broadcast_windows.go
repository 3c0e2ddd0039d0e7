//go:build windows

package frame

import (
	"net"

	"golang.org/x/sys/windows"
)

// enableBroadcast sets SO_BROADCAST on conn's underlying socket; see the
// unix build's comment for why this goes through SyscallConn.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var setErr error
	if err := raw.Control(func(fd uintptr) {
		setErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return setErr
}
