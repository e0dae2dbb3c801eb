//go:build !windows

package discovery

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// applyUDPSocketOptions sets minimal, portable options. SO_REUSEPORT is
// intentionally omitted: it isn't defined on every Unix target and
// isn't required for these sockets to rebind cleanly.
func applyUDPSocketOptions(network, address string, rc syscall.RawConn) error {
	var retErr error
	_ = rc.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil && retErr == nil {
			retErr = err
		}
	})
	return retErr
}
