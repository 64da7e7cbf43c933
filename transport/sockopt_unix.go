//go:build unix

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// broadcastControl 在 bind 之前开启 SO_BROADCAST。
func broadcastControl(network, address string, c syscall.RawConn) error {
	return setInts(c, unix.SO_BROADCAST)
}

// reuseControl 额外开启 SO_REUSEADDR。
func reuseControl(network, address string, c syscall.RawConn) error {
	return setInts(c, unix.SO_BROADCAST, unix.SO_REUSEADDR)
}

func setInts(c syscall.RawConn, opts ...int) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		for _, o := range opts {
			if serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, o, 1); serr != nil {
				return
			}
		}
	})
	if err != nil {
		return err
	}
	return serr
}
