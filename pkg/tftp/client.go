package tftp

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"time"
)

// ErrTimeout is returned by Client when the server stops answering.
var ErrTimeout = errors.New("tftp: timeout")

// Client is a blocking TFTP client with retransmission.
type Client struct {
	// Addr is the server address, host:port.
	Addr    string
	Timeout time.Duration
	Retries int
}

// NewClient creates a Client for addr. A missing port defaults to 69.
func NewClient(addr string) *Client {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "69")
	}
	return &Client{Addr: addr, Timeout: time.Second, Retries: 5}
}

type clientSession struct {
	*Client
	conn   *net.UDPConn
	server netip.AddrPort
	peer   netip.AddrPort
	buf    []byte
}

func (c *Client) open() (*clientSession, error) {
	raddr, err := net.ResolveUDPAddr("udp4", c.Addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, err
	}
	server := raddr.AddrPort()
	return &clientSession{
		Client: c,
		conn:   conn,
		server: netip.AddrPortFrom(server.Addr().Unmap(), server.Port()),
		buf:    make([]byte, recvBufferSize),
	}, nil
}

// Get downloads name into w and returns the number of bytes received.
func (c *Client) Get(ctx context.Context, name string, w io.Writer, mode Mode) (int64, error) {
	s, err := c.open()
	if err != nil {
		return 0, err
	}
	defer s.conn.Close()

	var total int64
	expect := BlockNum(1)
	out := AppendRequest(nil, OpRRQ, name, mode)
	for {
		reply, err := s.roundTrip(ctx, out, func(op Opcode, pkt []byte) bool {
			if op != OpDATA {
				return false
			}
			data, err := ParseData(pkt)
			return err == nil && data.Block == expect
		})
		if err != nil {
			return total, err
		}
		data, _ := ParseData(reply)
		n, err := w.Write(data.Payload)
		total += int64(n)
		if err != nil {
			s.conn.WriteToUDPAddrPort(AppendError(nil, ErrCodeDiskFull, err.Error()), s.peer)
			return total, err
		}
		out = AppendAck(out[:0], expect)
		if len(data.Payload) < BlockSize {
			_, err = s.conn.WriteToUDPAddrPort(out, s.peer)
			return total, err
		}
		expect = expect.Next()
	}
}

// Put uploads the content of r as name and returns the number of bytes sent.
func (c *Client) Put(ctx context.Context, name string, r io.Reader, mode Mode) (int64, error) {
	s, err := c.open()
	if err != nil {
		return 0, err
	}
	defer s.conn.Close()

	var (
		total int64
		last  bool
		block BlockNum
	)
	buf := make([]byte, BlockSize)
	out := AppendRequest(nil, OpWRQ, name, mode)
	for {
		_, err := s.roundTrip(ctx, out, func(op Opcode, pkt []byte) bool {
			if op != OpACK {
				return false
			}
			acked, err := ParseAck(pkt)
			return err == nil && acked == block
		})
		if err != nil {
			return total, err
		}
		if last {
			return total, nil
		}
		n, err := io.ReadFull(r, buf)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			s.conn.WriteToUDPAddrPort(AppendError(nil, ErrCodeNotDefined, err.Error()), s.peer)
			return total, err
		}
		block = block.Next()
		last = n < BlockSize
		total += int64(n)
		out = AppendData(out[:0], block, buf[:n])
	}
}

// roundTrip sends out and waits for a packet accepted by match,
// retransmitting on timeout. An ERROR from the server ends the exchange.
func (s *clientSession) roundTrip(ctx context.Context, out []byte, match func(Opcode, []byte) bool) ([]byte, error) {
	to := s.peer
	if !to.IsValid() {
		to = s.server
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	for attempt := 0; attempt <= s.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := s.conn.WriteToUDPAddrPort(out, to); err != nil {
			return nil, err
		}
		deadline := time.Now().Add(timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := s.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		for {
			n, from, err := s.conn.ReadFromUDPAddrPort(s.buf)
			if err != nil {
				var nerr net.Error
				if errors.As(err, &nerr) && nerr.Timeout() {
					break
				}
				return nil, err
			}
			from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
			if !s.acceptFrom(from) {
				continue
			}
			pkt := s.buf[:n]
			op, err := PeekOpcode(pkt)
			if err != nil {
				continue
			}
			if op == OpERROR {
				if perr, err := ParseErrorPacket(pkt); err == nil {
					return nil, perr
				}
				continue
			}
			if match(op, pkt) {
				s.peer = from
				return pkt, nil
			}
		}
	}
	return nil, ErrTimeout
}

// acceptFrom locks onto the first responding port of the server.
func (s *clientSession) acceptFrom(from netip.AddrPort) bool {
	if s.peer.IsValid() {
		return from == s.peer
	}
	return from.Addr() == s.server.Addr()
}
