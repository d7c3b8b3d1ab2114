// Package all registers all shell commands.
package all

import (
	// commands register themselves in init
	_ "github.com/robotalks/lightnode.go/pkg/cli/cmds/remote"
	_ "github.com/robotalks/lightnode.go/pkg/cli/cmds/tftp"
)
