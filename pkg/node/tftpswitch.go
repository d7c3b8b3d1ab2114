package node

import (
	"github.com/golang/glog"

	fx "github.com/robotalks/lightnode.go/pkg/framework"
	"github.com/robotalks/lightnode.go/pkg/remote"
	"github.com/robotalks/lightnode.go/pkg/tftp"
	"github.com/robotalks/lightnode.go/pkg/udp"
)

// TFTPSwitch runs the TFTP daemon on demand. It binds the port when
// switched on and releases it when switched off; the daemon is polled
// only while on.
type TFTPSwitch struct {
	Bind    func() (udp.Conn, error)
	Storage tftp.Storage
	Options []tftp.Option
	// OnChange is called after the daemon was started or stopped.
	OnChange func(enabled bool)

	daemon *tftp.Daemon
}

// Enabled reports whether the daemon is running.
func (s *TFTPSwitch) Enabled() bool {
	return s.daemon != nil
}

// Daemon returns the running daemon, or nil.
func (s *TFTPSwitch) Daemon() *tftp.Daemon {
	return s.daemon
}

// SetEnabled starts or stops the daemon. An active transfer is aborted
// when stopping.
func (s *TFTPSwitch) SetEnabled(enable bool) error {
	if enable == s.Enabled() {
		return nil
	}
	if !enable {
		err := s.daemon.Close()
		s.daemon = nil
		glog.Info("tftp: off")
		s.changed(false)
		return err
	}
	conn, err := s.Bind()
	if err != nil {
		return err
	}
	s.daemon = tftp.NewDaemon(conn, s.Storage, s.Options...)
	glog.Infof("tftp: on, listening on %s", conn.LocalAddr())
	s.changed(true)
	return nil
}

// Control implements fx.Controller.
func (s *TFTPSwitch) Control(cc fx.ControlContext) error {
	var errs fx.AggregatedError
	cc.Messages().ProcessMessages(fx.ProcessMessageFunc(func(mctx fx.MessageProcessingContext) {
		if msg, ok := mctx.CurrentMessage().(*remote.TFTPEnableMsg); ok {
			mctx.MessageTaken()
			errs.Add(s.SetEnabled(msg.Enable))
		}
	}))
	if s.daemon != nil {
		s.daemon.Poll()
	}
	return errs.Aggregate()
}

// AddToLoop implements fx.LoopAdder.
func (s *TFTPSwitch) AddToLoop(loop *fx.Loop) {
	loop.AddController(fx.PrLvService, s)
}

// Close stops the daemon.
func (s *TFTPSwitch) Close() error {
	return s.SetEnabled(false)
}

func (s *TFTPSwitch) changed(enabled bool) {
	if s.OnChange != nil {
		s.OnChange(enabled)
	}
}
