//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package udp

import "syscall"

func reuseControl(network, address string, c syscall.RawConn) error {
	return nil
}
