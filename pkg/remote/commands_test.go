package remote

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCommands(tftp *bool) *Commands {
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &Commands{
		Addr:        netip.MustParseAddr("192.168.2.120"),
		Name:        "stage-left",
		NodeType:    "Lightnode",
		Version:     "1.0.0",
		Services:    func() []string { return []string{"config", "http"} },
		TFTPEnabled: func() bool { return *tftp },
		Started:     started,
		Now:         func() time.Time { return started.Add(90*time.Second + 400*time.Millisecond) },
	}
}

func TestCommands(t *testing.T) {
	tftpOn := false
	cmds := newTestCommands(&tftpOn)
	testCases := []struct {
		line  string
		reply string
	}{
		{"?list#", "192.168.2.120,stage-left,Lightnode,config+http"},
		{"?list#\r\n", "192.168.2.120,stage-left,Lightnode,config+http"},
		{"?version#", "1.0.0"},
		{"?uptime#", "uptime: 90s"},
		{"?tftp#", "tftp:Off"},
	}
	for _, tc := range testCases {
		t.Run(tc.line, func(t *testing.T) {
			res, err := cmds.Execute(tc.line)
			require.NoError(t, err)
			require.True(t, res.HasReply)
			require.Equal(t, tc.reply, res.Reply)
			require.Nil(t, res.Msg)
		})
	}

	tftpOn = true
	res, err := cmds.Execute("?tftp#")
	require.NoError(t, err)
	require.Equal(t, "tftp:On", res.Reply)
	res, err = cmds.Execute("?list#")
	require.NoError(t, err)
	require.Equal(t, "192.168.2.120,stage-left,Lightnode,config+http,Bootloader TFTP", res.Reply)
}

func TestTFTPRequest(t *testing.T) {
	cmds := newTestCommands(new(bool))
	res, err := cmds.Execute("!tftp#1")
	require.NoError(t, err)
	require.False(t, res.HasReply)
	require.Equal(t, &TFTPEnableMsg{Enable: true}, res.Msg)

	res, err = cmds.Execute("!tftp#0\n")
	require.NoError(t, err)
	require.Equal(t, &TFTPEnableMsg{Enable: false}, res.Msg)

	_, err = cmds.Execute("!tftp#2")
	require.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestInvalidCommands(t *testing.T) {
	cmds := newTestCommands(new(bool))
	for _, line := range []string{"", "?", "list#", "?list", "?reboot#", "!version#", "#list#"} {
		_, err := cmds.Execute(line)
		require.True(t, errors.Is(err, ErrUnknownCommand), line)
	}
}

func TestUptimeWithoutStart(t *testing.T) {
	cmds := &Commands{}
	res, err := cmds.Execute("?uptime#")
	require.NoError(t, err)
	require.Equal(t, "uptime: 0s", res.Reply)
	res, err = cmds.Execute("?tftp#")
	require.NoError(t, err)
	require.Equal(t, "tftp:Off", res.Reply)
}
