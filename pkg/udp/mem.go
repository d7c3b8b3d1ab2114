package udp

import (
	"net/netip"
	"sync"
)

// MemConn is an in-memory Conn. Datagrams are fed with Inject and
// everything sent is recorded for TakeSent.
type MemConn struct {
	local netip.AddrPort

	lock    sync.Mutex
	inbox   []Datagram
	sent    []Datagram
	sendErr error
	closed  bool
}

// NewMemConn creates a MemConn bound to local.
func NewMemConn(local netip.AddrPort) *MemConn {
	return &MemConn{local: local}
}

// Inject queues a datagram as if it was received from peer.
func (c *MemConn) Inject(data []byte, from netip.AddrPort) {
	c.lock.Lock()
	c.inbox = append(c.inbox, Datagram{Addr: from, Data: append([]byte(nil), data...)})
	c.lock.Unlock()
}

// Pending returns the number of injected datagrams not yet received.
func (c *MemConn) Pending() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.inbox)
}

// TakeSent returns and clears the datagrams sent so far.
func (c *MemConn) TakeSent() []Datagram {
	c.lock.Lock()
	defer c.lock.Unlock()
	sent := c.sent
	c.sent = nil
	return sent
}

// FailSends makes subsequent SendTo calls fail with err. nil restores.
func (c *MemConn) FailSends(err error) {
	c.lock.Lock()
	c.sendErr = err
	c.lock.Unlock()
}

// RecvFrom implements Conn.
func (c *MemConn) RecvFrom(buf []byte) (int, netip.AddrPort, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return 0, netip.AddrPort{}, ErrClosed
	}
	if len(c.inbox) == 0 {
		return 0, netip.AddrPort{}, nil
	}
	d := c.inbox[0]
	c.inbox = c.inbox[1:]
	return copy(buf, d.Data), d.Addr, nil
}

// SendTo implements Conn.
func (c *MemConn) SendTo(b []byte, to netip.AddrPort) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, Datagram{Addr: to, Data: append([]byte(nil), b...)})
	return nil
}

// LocalAddr implements Conn.
func (c *MemConn) LocalAddr() netip.AddrPort {
	return c.local
}

// Close implements Conn.
func (c *MemConn) Close() error {
	c.lock.Lock()
	c.closed = true
	c.lock.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (c *MemConn) Closed() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.closed
}
