package remote

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewClientDefaultPort(t *testing.T) {
	require.Equal(t, "10.0.0.7:10501", NewClient("10.0.0.7").Addr)
	require.Equal(t, "10.0.0.7:9000", NewClient("10.0.0.7:9000").Addr)
}

func TestClientQuery(t *testing.T) {
	server, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer server.Close()

	received := make(chan string, 2)
	go func() {
		buf := make([]byte, 128)
		for {
			n, from, err := server.ReadFromUDP(buf)
			if err != nil {
				return
			}
			received <- string(buf[:n])
			if buf[0] == '?' {
				server.WriteToUDP([]byte("tftp:On\n"), from)
			}
		}
	}()

	client := NewClient(server.LocalAddr().String())
	require.NoError(t, client.Send(context.Background(), "!tftp#1"))
	require.Equal(t, "!tftp#1", <-received)

	reply, err := client.Query(context.Background(), "?tftp#")
	require.NoError(t, err)
	require.Equal(t, "tftp:On", reply)
	require.Equal(t, "?tftp#", <-received)
}

func TestClientQueryTimeout(t *testing.T) {
	server, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer server.Close()

	client := NewClient(server.LocalAddr().String())
	client.Timeout = 50 * time.Millisecond
	_, err = client.Query(context.Background(), "?list#")
	require.Error(t, err)
}
