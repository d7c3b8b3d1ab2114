// Package node composes the daemons of a light node and wires them into
// the loop.
package node

import (
	"fmt"
	"log"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/lightnode.go/pkg/framework"
	"github.com/robotalks/lightnode.go/pkg/mdns"
	"github.com/robotalks/lightnode.go/pkg/remote"
	reportmqtt "github.com/robotalks/lightnode.go/pkg/report/mqtt"
	"github.com/robotalks/lightnode.go/pkg/tftp"
	"github.com/robotalks/lightnode.go/pkg/udp"
)

// Binder opens a Conn.
type Binder func(udp.BindConfig) (udp.Conn, error)

// Node is a running light node.
type Node struct {
	Config    *Config
	Addr      netip.Addr
	Responder *mdns.Responder
	Announcer *AnnounceController
	TFTP      *TFTPSwitch
	Commands  *remote.Commands
	Remote    *remote.Daemon
	Reporter  *reportmqtt.Reporter

	loop atomic.Pointer[fx.Loop]
}

// NewNode detects the address and binds the sockets.
func (c *Config) NewNode() (*Node, error) {
	addr, err := InterfaceAddr(c.Interface)
	if err != nil {
		if c.Interface != "" {
			return nil, err
		}
		glog.Warningf("%v, A record disabled", err)
	}
	if err := os.MkdirAll(c.TFTPRoot, 0755); err != nil {
		return nil, fmt.Errorf("tftp root: %w", err)
	}
	return c.newNode(addr, func(cfg udp.BindConfig) (udp.Conn, error) {
		sock, err := udp.Bind(cfg)
		if err != nil {
			return nil, err
		}
		return sock, nil
	})
}

// MustNewNode creates Node and fails on error.
func (c *Config) MustNewNode() *Node {
	n, err := c.NewNode()
	if err != nil {
		log.Fatalln(err)
	}
	return n
}

func (c *Config) newNode(addr netip.Addr, bind Binder) (*Node, error) {
	n := &Node{Config: c, Addr: addr}
	if err := n.setup(bind); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *Node) setup(bind Binder) (err error) {
	c, addr := n.Config, n.Addr

	if !mdns.ValidHostname(c.Hostname) {
		return fmt.Errorf("invalid hostname %q", c.Hostname)
	}
	name := c.Name
	if name == "" {
		name = c.Hostname
	}

	if c.MQTTBrokerURL != "" {
		if n.Reporter, err = reportmqtt.NewReporter(c.MQTTBrokerURL, name); err != nil {
			return fmt.Errorf("mqtt reporter: %w", err)
		}
	}

	conn, err := bind(udp.BindConfig{
		Addr:      netip.AddrPortFrom(netip.IPv4Unspecified(), mdns.Port),
		Group:     mdns.Group,
		Interface: c.Interface,
		OnReceive: n.wake,
	})
	if err != nil {
		return err
	}
	n.Responder = mdns.NewResponder(conn, mdns.ResponderConfig{Hostname: c.Hostname, Addr: addr})
	if !n.Responder.AddServiceRecord(name, mdns.ServiceConfig, nil, c.RemotePort) ||
		!n.Responder.AddServiceRecord(name, mdns.ServiceTFTP, nil, 0) {
		return fmt.Errorf("invalid service name %q", name)
	}
	for _, svc := range c.Services {
		if !n.Responder.AddServiceRecord(name, svc.Kind, nil, svc.Port) {
			return fmt.Errorf("cannot advertise %s", svc.Kind)
		}
	}
	n.Announcer = NewAnnounceController(n.Responder, mdns.DefaultServiceTTL)

	storage := tftp.NewDirStorage(c.TFTPRoot)
	storage.AllowOverwrite = c.TFTPOverwrite
	storage.MaxFileSize = c.TFTPMaxFileSize
	opts := []tftp.Option{tftp.WithIdleTimeout(c.TFTPIdleTimeout)}
	if n.Reporter != nil {
		opts = append(opts, tftp.WithObserver(n.Reporter))
	}
	n.TFTP = &TFTPSwitch{
		Bind: func() (udp.Conn, error) {
			return bind(udp.BindConfig{
				Addr:      netip.AddrPortFrom(netip.IPv4Unspecified(), tftp.DefaultPort),
				OnReceive: n.wake,
			})
		},
		Storage:  storage,
		Options:  opts,
		OnChange: n.tftpChanged,
	}

	n.Commands = &remote.Commands{
		Addr:        addr,
		Name:        name,
		NodeType:    c.NodeType,
		Version:     Version,
		Services:    n.services,
		TFTPEnabled: n.TFTP.Enabled,
		Started:     time.Now(),
	}
	if conn, err = bind(udp.BindConfig{
		Addr:      netip.AddrPortFrom(netip.IPv4Unspecified(), c.RemotePort),
		OnReceive: n.wake,
	}); err != nil {
		return err
	}
	n.Remote = remote.NewDaemon(conn, n.Commands)

	if c.TFTPEnabled {
		if err = n.TFTP.SetEnabled(true); err != nil {
			return err
		}
	}
	if n.Reporter != nil {
		n.Reporter.SetMeta(n.Meta())
	}
	return nil
}

// Meta describes the node for the MQTT reporter.
func (n *Node) Meta() reportmqtt.Meta {
	meta := reportmqtt.Meta{
		Name:     n.Commands.Name,
		Hostname: n.Responder.HostName(),
		NodeType: n.Config.NodeType,
		Version:  Version,
		Services: n.services(),
		TFTP:     n.TFTP.Enabled(),
	}
	if n.Addr.IsValid() {
		meta.Addr = n.Addr.String()
	}
	return meta
}

// AddToLoop implements fx.LoopAdder.
func (n *Node) AddToLoop(loop *fx.Loop) {
	n.loop.Store(loop)
	loop.Add(n.Responder, n.Announcer, n.TFTP, n.Remote)
	if n.Reporter != nil {
		loop.Add(n.Reporter)
	}
}

// Close stops the daemons, announcing the services are gone.
func (n *Node) Close() error {
	var errs fx.AggregatedError
	if n.TFTP != nil {
		errs.Add(n.TFTP.Close())
	}
	if n.Responder != nil {
		errs.Add(n.Responder.Close())
	}
	if n.Remote != nil {
		errs.Add(n.Remote.Close())
	}
	return errs.Aggregate()
}

func (n *Node) services() []string {
	records := n.Responder.Records()
	names := make([]string, 0, len(records))
	for _, rec := range records {
		names = append(names, rec.Kind.Alias())
	}
	return names
}

func (n *Node) tftpChanged(bool) {
	if n.Announcer != nil {
		n.Announcer.Restart()
	}
	if n.Reporter != nil {
		n.Reporter.SetMeta(n.Meta())
	}
}

func (n *Node) wake() {
	if loop := n.loop.Load(); loop != nil {
		loop.TriggerNext()
	}
}
