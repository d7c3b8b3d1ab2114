package main

import (
	"github.com/robotalks/lightnode.go/pkg/cli/sh"

	_ "github.com/robotalks/lightnode.go/pkg/cli/cmds/all"
)

//go-build: CGO_ENABLED=0

func main() {
	sh.Main()
}
