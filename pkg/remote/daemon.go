package remote

import (
	"github.com/golang/glog"

	fx "github.com/robotalks/lightnode.go/pkg/framework"
	"github.com/robotalks/lightnode.go/pkg/udp"
)

// Daemon serves Commands on a UDP conn. It also executes CommandMsg
// posted to the loop by other transports.
type Daemon struct {
	conn udp.Conn
	cmds *Commands
	// one extra byte detects oversize datagrams
	buf [MaxCommandSize + 1]byte
}

// NewDaemon creates a Daemon on an already bound conn.
func NewDaemon(conn udp.Conn, cmds *Commands) *Daemon {
	return &Daemon{conn: conn, cmds: cmds}
}

// Poll receives at most one command datagram and executes it.
func (d *Daemon) Poll(ctl fx.LoopControl) {
	n, from, err := d.conn.RecvFrom(d.buf[:])
	if err != nil {
		glog.Warningf("remote: receive: %v", err)
		return
	}
	if n == 0 {
		return
	}
	if n > MaxCommandSize {
		glog.V(2).Infof("remote: drop oversize command from %s", from)
		return
	}
	res, err := d.cmds.Execute(string(d.buf[:n]))
	if err != nil {
		glog.V(2).Infof("remote: %s: %v", from, err)
		return
	}
	post(ctl, res.Msg)
	if res.HasReply {
		if err := d.conn.SendTo([]byte(res.Reply+"\n"), from); err != nil {
			glog.Warningf("remote: reply to %s: %v", from, err)
		}
	}
}

// Control implements fx.Controller.
func (d *Daemon) Control(cc fx.ControlContext) error {
	cc.Messages().ProcessMessages(fx.ProcessMessageFunc(func(mctx fx.MessageProcessingContext) {
		msg, ok := mctx.CurrentMessage().(*CommandMsg)
		if !ok {
			return
		}
		mctx.MessageTaken()
		res, err := d.cmds.Execute(msg.Line)
		if err != nil {
			glog.V(2).Infof("remote: %q: %v", msg.Line, err)
			if msg.Reply != nil {
				msg.Reply("error: " + err.Error())
			}
			return
		}
		post(cc, res.Msg)
		if res.HasReply && msg.Reply != nil {
			msg.Reply(res.Reply)
		}
	}))
	d.Poll(cc)
	return nil
}

// AddToLoop implements fx.LoopAdder.
func (d *Daemon) AddToLoop(loop *fx.Loop) {
	loop.AddController(fx.PrLvConfig, d)
}

// Close closes the connection.
func (d *Daemon) Close() error {
	return d.conn.Close()
}

func post(ctl fx.LoopControl, msg fx.Message) {
	if msg != nil {
		ctl.PostMessage(msg)
		ctl.TriggerNext()
	}
}
