// Package udp provides the non-blocking datagram transport shared by the
// polled network daemons.
package udp

import (
	"errors"
	"net/netip"
)

// ErrClosed is returned by operations on a closed Conn.
var ErrClosed = errors.New("udp: use of closed connection")

// Conn is a bound UDP endpoint that is polled rather than waited on.
//
// RecvFrom never blocks: a return of zero bytes means nothing is pending.
// A datagram longer than buf is truncated.
type Conn interface {
	RecvFrom(buf []byte) (int, netip.AddrPort, error)
	SendTo(b []byte, to netip.AddrPort) error
	LocalAddr() netip.AddrPort
	Close() error
}

// Datagram is a single received or sent UDP payload.
type Datagram struct {
	Addr netip.AddrPort
	Data []byte
}
