// Package remote implements the text command protocol used to query and
// configure a node over UDP.
//
// Queries start with '?', requests with '!', and the command name ends
// with '#', e.g. "?list#" or "!tftp#1".
package remote

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	fx "github.com/robotalks/lightnode.go/pkg/framework"
)

// Protocol constants.
const (
	DefaultPort = 10501
	// MaxCommandSize is the largest datagram accepted as a command.
	MaxCommandSize = 64
	// ListTFTPField ends the ?list# reply while the TFTP server runs.
	// Flashing scripts search the reply for it.
	ListTFTPField = "Bootloader TFTP"
)

// Errors from Execute.
var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrInvalidArgument = errors.New("invalid argument")
)

// TFTPEnableMsg requests the TFTP server to be switched on or off.
type TFTPEnableMsg struct {
	Enable bool
}

// CommandMsg carries a command line received outside of the UDP daemon,
// e.g. from MQTT. Reply is called with the reply, if the command has one.
type CommandMsg struct {
	Line  string
	Reply func(string)
}

// Result is the outcome of a command.
type Result struct {
	// Reply is sent back to the requester when HasReply is set.
	Reply    string
	HasReply bool
	// Msg is posted to the loop when not nil.
	Msg fx.Message
}

// Commands executes command lines against the node state.
type Commands struct {
	Addr     netip.Addr
	Name     string
	NodeType string
	Version  string
	// Services lists the advertised services.
	Services func() []string
	// TFTPEnabled reports whether the TFTP server is running.
	TFTPEnabled func() bool

	Started time.Time
	Now     func() time.Time
}

// Execute runs a command line.
func (c *Commands) Execute(line string) (Result, error) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) < 2 {
		return Result{}, ErrUnknownCommand
	}
	kind, body := line[0], line[1:]
	name, arg, ok := strings.Cut(body, "#")
	if !ok {
		return Result{}, ErrUnknownCommand
	}
	switch kind {
	case '?':
		return c.query(name, arg)
	case '!':
		return c.request(name, arg)
	}
	return Result{}, ErrUnknownCommand
}

func (c *Commands) query(name, arg string) (Result, error) {
	switch name {
	case "list":
		return reply(c.list()), nil
	case "version":
		return reply(c.Version), nil
	case "uptime":
		return reply(fmt.Sprintf("uptime: %ds", int64(c.uptime().Seconds()))), nil
	case "tftp":
		if c.tftpEnabled() {
			return reply("tftp:On"), nil
		}
		return reply("tftp:Off"), nil
	}
	return Result{}, fmt.Errorf("%w: ?%s#", ErrUnknownCommand, name)
}

func (c *Commands) request(name, arg string) (Result, error) {
	switch name {
	case "tftp":
		switch arg {
		case "1":
			return Result{Msg: &TFTPEnableMsg{Enable: true}}, nil
		case "0":
			return Result{Msg: &TFTPEnableMsg{Enable: false}}, nil
		}
		return Result{}, fmt.Errorf("%w: !tftp#%s", ErrInvalidArgument, arg)
	}
	return Result{}, fmt.Errorf("%w: !%s#", ErrUnknownCommand, name)
}

func (c *Commands) list() string {
	var services []string
	if c.Services != nil {
		services = c.Services()
	}
	fields := []string{c.Addr.String(), c.Name, c.NodeType, strings.Join(services, "+")}
	if c.tftpEnabled() {
		fields = append(fields, ListTFTPField)
	}
	return strings.Join(fields, ",")
}

func (c *Commands) uptime() time.Duration {
	if c.Started.IsZero() {
		return 0
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return now().Sub(c.Started)
}

func (c *Commands) tftpEnabled() bool {
	return c.TFTPEnabled != nil && c.TFTPEnabled()
}

func reply(s string) Result {
	return Result{Reply: s, HasReply: true}
}
