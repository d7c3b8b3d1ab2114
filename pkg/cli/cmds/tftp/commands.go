package tftp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/lightnode.go/pkg/cli/sh"
	"github.com/robotalks/lightnode.go/pkg/tftp"
)

func printResult(c *ishell.Context, op, remote, local string, n int64) {
	if sh.ShellFrom(c).OutputJSON {
		sh.PrintJSON(c, map[string]interface{}{"op": op, "remote": remote, "local": local, "bytes": n})
		return
	}
	c.Printf("%s %s: %d bytes\n", op, remote, n)
}

var (
	// GetCmd downloads a file.
	GetCmd = ishell.Cmd{
		Name: "tftp.get",
		Help: "REMOTE [LOCAL]",
		Func: sh.MustHaveTarget(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("REMOTE required"))
				return
			}
			name, local := c.Args[0], filepath.Base(c.Args[0])
			if len(c.Args) > 1 {
				local = c.Args[1]
			}
			f, err := os.Create(local)
			if err != nil {
				c.Err(err)
				return
			}
			n, err := tftp.NewClient(sh.ShellFrom(c).Target).Get(context.Background(), name, f, tftp.ModeBinary)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(local)
				c.Err(err)
				return
			}
			printResult(c, "get", name, local, n)
		}),
	}

	// PutCmd uploads a file.
	PutCmd = ishell.Cmd{
		Name: "tftp.put",
		Help: "LOCAL [REMOTE]",
		Func: sh.MustHaveTarget(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("LOCAL required"))
				return
			}
			local, name := c.Args[0], filepath.Base(c.Args[0])
			if len(c.Args) > 1 {
				name = c.Args[1]
			}
			f, err := os.Open(local)
			if err != nil {
				c.Err(err)
				return
			}
			defer f.Close()
			n, err := tftp.NewClient(sh.ShellFrom(c).Target).Put(context.Background(), name, f, tftp.ModeBinary)
			if err != nil {
				c.Err(err)
				return
			}
			printResult(c, "put", name, local, n)
		}),
	}
)

func init() {
	sh.AddCmds(&GetCmd, &PutCmd)
}
