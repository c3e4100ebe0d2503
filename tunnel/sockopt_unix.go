//go:build unix

package tunnel

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrControl lets a restarted receiver rebind while old sockets sit in TIME_WAIT.
func reuseAddrControl(_, _ string, rc syscall.RawConn) error {
	var serr error
	if err := rc.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return serr
}
