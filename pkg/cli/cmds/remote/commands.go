package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/lightnode.go/pkg/cli/sh"
	"github.com/robotalks/lightnode.go/pkg/remote"
)

// Send sends a remote command line to the target and prints the reply
// of queries.
func Send(c *ishell.Context, line string) {
	s := sh.ShellFrom(c)
	client := remote.NewClient(s.Target)
	if !strings.HasPrefix(line, "?") {
		if err := client.Send(context.Background(), line); err != nil {
			c.Err(err)
		}
		return
	}
	reply, err := client.Query(context.Background(), line)
	if err != nil {
		c.Err(err)
		return
	}
	if s.OutputJSON {
		sh.PrintJSON(c, map[string]string{"command": line, "reply": reply})
		return
	}
	c.Println(reply)
}

var (
	// CmdCmd sends a raw command line.
	CmdCmd = ishell.Cmd{
		Name:    "cmd",
		Aliases: []string{"c"},
		Help:    "LINE, e.g. ?list#",
		Func: sh.MustHaveTarget(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("LINE required"))
				return
			}
			Send(c, strings.Join(c.Args, " "))
		}),
	}

	// TFTPOnCmd switches the TFTP server on.
	TFTPOnCmd = ishell.Cmd{
		Name: "tftp.on",
		Help: "",
		Func: sh.MustHaveTarget(func(c *ishell.Context) {
			Send(c, "!tftp#1")
			Send(c, "?tftp#")
		}),
	}

	// TFTPOffCmd switches the TFTP server off.
	TFTPOffCmd = ishell.Cmd{
		Name: "tftp.off",
		Help: "",
		Func: sh.MustHaveTarget(func(c *ishell.Context) {
			Send(c, "!tftp#0")
			Send(c, "?tftp#")
		}),
	}
)

func init() {
	sh.AddCmds(&CmdCmd, &TFTPOnCmd, &TFTPOffCmd)
}
