package remote

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout is how long Client waits for a reply.
const DefaultTimeout = time.Second

// Client sends commands to a node.
type Client struct {
	Addr    string
	Timeout time.Duration
}

// NewClient creates a Client for host, port 10501 is used when host
// doesn't specify one.
func NewClient(host string) *Client {
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, strconv.Itoa(DefaultPort))
	}
	return &Client{Addr: host, Timeout: DefaultTimeout}
}

// Send sends a command without waiting for a reply.
func (c *Client) Send(ctx context.Context, line string) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write([]byte(line))
	return err
}

// Query sends a command and returns the reply without the trailing newline.
func (c *Client) Query(ctx context.Context, line string) (string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if _, err = conn.Write([]byte(line)); err != nil {
		return "", err
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(buf[:n]), "\r\n"), nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "udp4", c.Addr)
}
