package udp

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var loopback = netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), 0)

func recvWithin(t *testing.T, c Conn, buf []byte) (int, netip.AddrPort) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n, from, err := c.RecvFrom(buf)
		require.NoError(t, err)
		if n > 0 {
			return n, from
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("nothing received")
	return 0, netip.AddrPort{}
}

func TestSocketSendRecv(t *testing.T) {
	woken := make(chan struct{}, 4)
	a, err := Bind(BindConfig{Addr: loopback, OnReceive: func() { woken <- struct{}{} }})
	require.NoError(t, err)
	defer a.Close()
	b, err := Bind(BindConfig{Addr: loopback})
	require.NoError(t, err)
	defer b.Close()

	buf := make([]byte, 64)
	n, _, err := a.RecvFrom(buf)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, b.SendTo([]byte("hello"), a.LocalAddr()))
	n, from := recvWithin(t, a, buf)
	require.Equal(t, "hello", string(buf[:n]))
	require.Equal(t, b.LocalAddr(), from)

	select {
	case <-woken:
	case <-time.After(5 * time.Second):
		t.Fatal("OnReceive not called")
	}
}

func TestSocketUnicastPortExclusive(t *testing.T) {
	a, err := Bind(BindConfig{Addr: loopback})
	require.NoError(t, err)
	defer a.Close()
	_, err = Bind(BindConfig{Addr: a.LocalAddr()})
	require.Error(t, err)
}

func TestSocketTruncates(t *testing.T) {
	a, err := Bind(BindConfig{Addr: loopback})
	require.NoError(t, err)
	defer a.Close()
	b, err := Bind(BindConfig{Addr: loopback})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.SendTo([]byte("0123456789"), a.LocalAddr()))
	buf := make([]byte, 4)
	n, _ := recvWithin(t, a, buf)
	require.Equal(t, "0123", string(buf[:n]))
}

func TestSocketQueueOverflow(t *testing.T) {
	a, err := Bind(BindConfig{Addr: loopback, QueueLen: 1})
	require.NoError(t, err)
	defer a.Close()
	b, err := Bind(BindConfig{Addr: loopback})
	require.NoError(t, err)
	defer b.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.SendTo([]byte{byte(i)}, a.LocalAddr()))
	}
	deadline := time.Now().Add(5 * time.Second)
	for a.Dropped() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.EqualValues(t, 2, a.Dropped())

	buf := make([]byte, 4)
	n, _, err := a.RecvFrom(buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, _, err = a.RecvFrom(buf)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSocketClose(t *testing.T) {
	a, err := Bind(BindConfig{Addr: loopback})
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, _, err = a.RecvFrom(make([]byte, 4))
	require.True(t, errors.Is(err, ErrClosed))
	require.True(t, errors.Is(a.SendTo([]byte{1}, loopback), ErrClosed))
}

func TestMemConn(t *testing.T) {
	local := netip.MustParseAddrPort("10.0.0.1:69")
	peer := netip.MustParseAddrPort("10.0.0.2:40000")
	c := NewMemConn(local)
	require.Equal(t, local, c.LocalAddr())

	buf := make([]byte, 8)
	n, _, err := c.RecvFrom(buf)
	require.NoError(t, err)
	require.Zero(t, n)

	c.Inject([]byte("abc"), peer)
	require.Equal(t, 1, c.Pending())
	n, from, err := c.RecvFrom(buf)
	require.NoError(t, err)
	require.Equal(t, "abc", string(buf[:n]))
	require.Equal(t, peer, from)

	require.NoError(t, c.SendTo([]byte("xyz"), peer))
	sent := c.TakeSent()
	require.Len(t, sent, 1)
	require.Equal(t, peer, sent[0].Addr)
	require.Equal(t, "xyz", string(sent[0].Data))
	require.Empty(t, c.TakeSent())

	sendErr := errors.New("no route")
	c.FailSends(sendErr)
	require.Equal(t, sendErr, c.SendTo([]byte("x"), peer))

	require.NoError(t, c.Close())
	require.True(t, c.Closed())
	_, _, err = c.RecvFrom(buf)
	require.Equal(t, ErrClosed, err)
}
