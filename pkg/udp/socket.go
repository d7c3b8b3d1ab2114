package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
	"golang.org/x/net/ipv4"
)

// Defaults applied by Bind.
const (
	DefaultQueueLen       = 16
	DefaultReadBufferSize = 9000
)

// BindConfig describes the endpoint a Socket binds.
type BindConfig struct {
	// Addr is the local address. An unspecified address binds all interfaces.
	Addr netip.AddrPort
	// Group is an optional IPv4 multicast group to join.
	Group netip.Addr
	// Interface restricts multicast to one interface. Empty means all
	// multicast capable interfaces.
	Interface string
	// QueueLen is the number of datagrams buffered between polls.
	QueueLen int
	// ReadBufferSize is the largest datagram accepted without truncation.
	ReadBufferSize int
	// OnReceive is invoked from the reader goroutine after a datagram
	// is queued. It is used to wake up the polling loop.
	OnReceive func()
}

// Socket implements Conn on top of a kernel UDP socket. A reader goroutine
// moves datagrams into a bounded queue which RecvFrom drains without
// blocking. Datagrams arriving while the queue is full are dropped.
type Socket struct {
	conn      *net.UDPConn
	local     netip.AddrPort
	queue     chan Datagram
	onReceive func()

	closed  atomic.Bool
	dropped atomic.Uint64
	done    chan struct{}

	errLock sync.Mutex
	readErr error
}

// Bind opens a Socket.
func Bind(cfg BindConfig) (*Socket, error) {
	if cfg.QueueLen <= 0 {
		cfg.QueueLen = DefaultQueueLen
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	addr := cfg.Addr
	if !addr.Addr().IsValid() {
		addr = netip.AddrPortFrom(netip.IPv4Unspecified(), addr.Port())
	}

	// only the shared multicast port may be bound by several processes
	var lc net.ListenConfig
	if cfg.Group.IsValid() {
		lc.Control = reuseControl
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", addr.String())
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	conn := pc.(*net.UDPConn)

	if cfg.Group.IsValid() {
		if err := joinGroup(conn, cfg.Group, cfg.Interface); err != nil {
			conn.Close()
			return nil, err
		}
	}

	s := &Socket{
		conn:      conn,
		local:     conn.LocalAddr().(*net.UDPAddr).AddrPort(),
		queue:     make(chan Datagram, cfg.QueueLen),
		onReceive: cfg.OnReceive,
		done:      make(chan struct{}),
	}
	s.local = netip.AddrPortFrom(s.local.Addr().Unmap(), s.local.Port())
	glog.V(2).Infof("bound %s", s.local)
	go s.readLoop(cfg.ReadBufferSize)
	return s, nil
}

func joinGroup(conn *net.UDPConn, group netip.Addr, ifname string) error {
	p := ipv4.NewPacketConn(conn)
	groupAddr := &net.UDPAddr{IP: net.IP(group.AsSlice())}
	if ifname != "" {
		ifi, err := net.InterfaceByName(ifname)
		if err != nil {
			return err
		}
		if err := p.JoinGroup(ifi, groupAddr); err != nil {
			return fmt.Errorf("join %s on %s: %w", group, ifname, err)
		}
		if err := p.SetMulticastInterface(ifi); err != nil {
			return err
		}
	} else {
		ifaces, err := net.Interfaces()
		if err != nil {
			return err
		}
		var joined int
		for n := range ifaces {
			ifi := &ifaces[n]
			if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 {
				continue
			}
			if err := p.JoinGroup(ifi, groupAddr); err != nil {
				glog.V(2).Infof("join %s on %s: %v", group, ifi.Name, err)
				continue
			}
			joined++
		}
		if joined == 0 {
			return fmt.Errorf("join %s: no multicast interface available", group)
		}
	}
	// link-local multicast per RFC 6762 section 11
	if err := p.SetMulticastTTL(255); err != nil {
		return err
	}
	return p.SetMulticastLoopback(true)
}

// RecvFrom implements Conn.
func (s *Socket) RecvFrom(buf []byte) (int, netip.AddrPort, error) {
	select {
	case d := <-s.queue:
		return copy(buf, d.Data), d.Addr, nil
	default:
	}
	if s.closed.Load() {
		return 0, netip.AddrPort{}, ErrClosed
	}
	s.errLock.Lock()
	err := s.readErr
	s.errLock.Unlock()
	return 0, netip.AddrPort{}, err
}

// SendTo implements Conn.
func (s *Socket) SendTo(b []byte, to netip.AddrPort) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.conn.WriteToUDPAddrPort(b, to)
	return err
}

// LocalAddr implements Conn.
func (s *Socket) LocalAddr() netip.AddrPort {
	return s.local
}

// Dropped returns the number of datagrams discarded on a full queue.
func (s *Socket) Dropped() uint64 {
	return s.dropped.Load()
}

// Close implements Conn.
func (s *Socket) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	err := s.conn.Close()
	<-s.done
	return err
}

func (s *Socket) readLoop(size int) {
	defer close(s.done)
	buf := make([]byte, size)
	for {
		n, from, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			glog.Warningf("%s: read error: %v", s.local, err)
			s.errLock.Lock()
			s.readErr = err
			s.errLock.Unlock()
			return
		}
		d := Datagram{
			Addr: netip.AddrPortFrom(from.Addr().Unmap(), from.Port()),
			Data: append([]byte(nil), buf[:n]...),
		}
		select {
		case s.queue <- d:
		default:
			s.dropped.Add(1)
			glog.V(2).Infof("%s: queue full, dropped %d bytes from %s", s.local, n, d.Addr)
			continue
		}
		if s.onReceive != nil {
			s.onReceive()
		}
	}
}
