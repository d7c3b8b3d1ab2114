package main

//go-build: CGO_ENABLED=0

import (
	"flag"
	"log"

	"github.com/golang/glog"

	fx "github.com/robotalks/lightnode.go/pkg/framework"
	"github.com/robotalks/lightnode.go/pkg/node"
)

func init() {
	node.SetupFlags()
}

func main() {
	flag.Parse()
	defer glog.Flush()

	n := node.NewConfig().MustNewNode()
	loop := fx.NewLoop().Add(n)
	err := fx.NewRunner().HandleSignals().Go(fx.NamedRun("loop", loop)).Wait()
	if cerr := n.Close(); cerr != nil {
		glog.Warningf("close: %v", cerr)
	}
	if err != nil {
		log.Fatalln(err)
	}
}
