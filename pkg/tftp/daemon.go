package tftp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/lightnode.go/pkg/framework"
	"github.com/robotalks/lightnode.go/pkg/udp"
)

// DefaultPort is the well-known TFTP port.
const DefaultPort = 69

// recvBufferSize leaves room to detect DATA packets larger than a block.
const recvBufferSize = 528

// ErrIdleTimeout aborts a session which stopped making progress.
var ErrIdleTimeout = errors.New("transfer idle timeout")

// State is the session state of the Daemon.
type State int

// States
const (
	StateInit State = iota
	StateWaitingRQ
	StateRRQSendPacket
	StateRRQRecvAck
	StateWRQSendAck
	StateWRQRecvPacket
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateWaitingRQ:
		return "WAITING_RQ"
	case StateRRQSendPacket:
		return "RRQ_SEND_PACKET"
	case StateRRQRecvAck:
		return "RRQ_RECV_ACK"
	case StateWRQSendAck:
		return "WRQ_SEND_ACK"
	case StateWRQRecvPacket:
		return "WRQ_RECV_PACKET"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Transfer describes the file transfer of a session.
type Transfer struct {
	Op       Opcode
	Filename string
	Mode     Mode
	Peer     netip.AddrPort
	Bytes    int64
}

// Observer is notified about transfers. Callbacks run on the polling
// goroutine and must not block.
type Observer interface {
	TransferStarted(Transfer)
	TransferCompleted(Transfer)
	TransferFailed(Transfer, error)
}

type nopObserver struct{}

func (nopObserver) TransferStarted(Transfer)       {}
func (nopObserver) TransferCompleted(Transfer)     {}
func (nopObserver) TransferFailed(Transfer, error) {}

// Option configures a Daemon.
type Option func(*Daemon)

// WithObserver sets the transfer Observer.
func WithObserver(o Observer) Option {
	return func(d *Daemon) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithIdleTimeout abandons a session when no valid packet arrives from
// the peer for the duration. Zero disables it.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(d *Daemon) {
		d.idleTimeout = timeout
	}
}

// WithClock replaces the clock used for the idle timeout.
func WithClock(now func() time.Time) Option {
	return func(d *Daemon) {
		d.now = now
	}
}

// Daemon is a single session TFTP server (RFC 1350) driven by Poll.
// There is no retransmission: a lost packet stalls the session until
// the peer retries or the idle timeout expires.
type Daemon struct {
	conn        udp.Conn
	storage     Storage
	observer    Observer
	idleTimeout time.Duration
	now         func() time.Time

	state        State
	xfer         Transfer
	block        BlockNum
	lastBlock    bool
	lastActivity time.Time

	// last block of the most recent completed write, re-acknowledged if
	// the peer missed the final ACK
	finished   BlockNum
	finishedBy netip.AddrPort

	recv [recvBufferSize]byte
	send [MaxPacketSize]byte
}

// NewDaemon creates a Daemon serving storage on an already bound conn.
func NewDaemon(conn udp.Conn, storage Storage, opts ...Option) *Daemon {
	d := &Daemon{
		conn:     conn,
		storage:  storage,
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current session state.
func (d *Daemon) State() State {
	return d.state
}

// Transfer returns the transfer of the active session.
func (d *Daemon) Transfer() (Transfer, bool) {
	return d.xfer, d.active()
}

// Poll performs one step of the state machine. It receives at most one
// datagram and sends at most one.
func (d *Daemon) Poll() {
	switch d.state {
	case StateInit:
		d.state = StateWaitingRQ
	case StateRRQSendPacket, StateWRQSendAck:
		d.state = d.flush()
		return
	}

	n, from, err := d.conn.RecvFrom(d.recv[:])
	if err != nil {
		glog.Warningf("tftp: receive: %v", err)
		return
	}
	if n == 0 {
		d.checkIdle()
		return
	}
	pkt := d.recv[:n]
	op, err := PeekOpcode(pkt)
	if err != nil {
		glog.V(2).Infof("tftp: drop from %s: %v", from, err)
		return
	}
	if d.active() && from != d.xfer.Peer {
		glog.V(2).Infof("tftp: %s from %s while serving %s", op, from, d.xfer.Peer)
		if op != OpERROR {
			d.sendError(from, ErrCodeUnknownTransferID, ErrCodeUnknownTransferID.String())
		}
		return
	}

	var next State
	switch op {
	case OpRRQ, OpWRQ:
		next = d.onRequest(pkt, from)
	case OpDATA:
		next = d.onData(pkt, from)
	case OpACK:
		next = d.onAck(pkt, from)
	case OpERROR:
		next = d.onError(pkt)
	default:
		next = d.unexpected(op, from)
	}
	d.state = next
	if next == StateRRQSendPacket || next == StateWRQSendAck {
		d.state = d.flush()
	}
}

// Control implements fx.Controller.
func (d *Daemon) Control(fx.ControlContext) error {
	d.Poll()
	return nil
}

// AddToLoop implements fx.LoopAdder.
func (d *Daemon) AddToLoop(loop *fx.Loop) {
	loop.AddController(fx.PrLvService, d)
}

// Close aborts any active session, signals the storage to exit and
// closes the connection.
func (d *Daemon) Close() error {
	if d.active() {
		d.abort(udp.ErrClosed)
	}
	d.state = StateInit
	d.storage.Exit()
	return d.conn.Close()
}

func (d *Daemon) active() bool {
	switch d.state {
	case StateRRQSendPacket, StateRRQRecvAck, StateWRQSendAck, StateWRQRecvPacket:
		return true
	}
	return false
}

func (d *Daemon) onRequest(pkt []byte, from netip.AddrPort) State {
	if d.active() {
		d.sendError(from, ErrCodeIllegalOperation, "transfer in progress")
		d.abort(errors.New("request during transfer"))
		return StateWaitingRQ
	}
	req, err := ParseRequest(pkt)
	if err != nil {
		glog.V(2).Infof("tftp: drop request from %s: %v", from, err)
		return StateWaitingRQ
	}
	mode, ok := req.Mode()
	if !ok {
		d.sendError(from, ErrCodeNotDefined, "unsupported mode "+req.ModeName)
		return StateWaitingRQ
	}

	next := StateRRQSendPacket
	if req.Op == OpRRQ {
		err = d.storage.Open(req.Filename, mode)
		d.block = 1
	} else {
		err = d.storage.Create(req.Filename, mode)
		d.block = 0
		next = StateWRQSendAck
	}
	if err != nil {
		glog.Warningf("tftp: %s %q from %s rejected: %v", req.Op, req.Filename, from, err)
		terr := errorFor(err)
		d.sendError(from, terr.Code, terr.Message)
		return StateWaitingRQ
	}

	d.xfer = Transfer{Op: req.Op, Filename: req.Filename, Mode: mode, Peer: from}
	d.finishedBy = netip.AddrPort{}
	d.lastBlock = false
	d.lastActivity = d.now()
	glog.Infof("tftp: %s %q (%s) from %s", req.Op, req.Filename, mode, from)
	d.observer.TransferStarted(d.xfer)
	return next
}

func (d *Daemon) onData(pkt []byte, from netip.AddrPort) State {
	if d.state != StateWRQRecvPacket {
		if d.reackFinished(pkt, from) {
			return d.state
		}
		return d.unexpected(OpDATA, from)
	}
	if len(pkt) > MaxPacketSize {
		err := fmt.Errorf("DATA of %d bytes exceeds block size", len(pkt)-HeaderSize)
		d.sendError(from, ErrCodeIllegalOperation, err.Error())
		d.abort(err)
		return StateWaitingRQ
	}
	data, err := ParseData(pkt)
	if err != nil {
		glog.V(2).Infof("tftp: drop DATA from %s: %v", from, err)
		return d.state
	}

	switch data.Block {
	case d.block.Next():
		n, err := d.storage.WriteBlock(data.Payload, data.Block)
		if err == nil && n != len(data.Payload) {
			err = io.ErrShortWrite
		}
		if err != nil {
			d.fail(err)
			return StateWaitingRQ
		}
		d.block = data.Block
		d.xfer.Bytes += int64(n)
		d.lastBlock = len(data.Payload) < BlockSize
		d.lastActivity = d.now()
		return StateWRQSendAck
	case d.block:
		// our ACK was lost, acknowledge again without writing
		glog.V(2).Infof("tftp: duplicate DATA %d from %s", data.Block, from)
		d.lastActivity = d.now()
		return StateWRQSendAck
	}
	glog.V(2).Infof("tftp: ignore DATA %d from %s, expect %d", data.Block, from, d.block.Next())
	return d.state
}

func (d *Daemon) onAck(pkt []byte, from netip.AddrPort) State {
	if d.state != StateRRQRecvAck {
		return d.unexpected(OpACK, from)
	}
	block, err := ParseAck(pkt)
	if err != nil {
		glog.V(2).Infof("tftp: drop ACK from %s: %v", from, err)
		return d.state
	}
	if block != d.block {
		glog.V(2).Infof("tftp: ignore ACK %d from %s, expect %d", block, from, d.block)
		return d.state
	}
	d.lastActivity = d.now()
	if d.lastBlock {
		if err := d.storage.Close(); err != nil {
			glog.Warningf("tftp: close %q: %v", d.xfer.Filename, err)
		}
		d.complete()
		return StateWaitingRQ
	}
	d.block = d.block.Next()
	return StateRRQSendPacket
}

func (d *Daemon) onError(pkt []byte) State {
	if !d.active() {
		return d.state
	}
	perr, err := ParseErrorPacket(pkt)
	if err == nil {
		err = perr
	}
	d.abort(err)
	return StateWaitingRQ
}

func (d *Daemon) unexpected(op Opcode, from netip.AddrPort) State {
	d.sendError(from, ErrCodeIllegalOperation, "unexpected "+op.String())
	if d.active() {
		d.abort(fmt.Errorf("unexpected %s in %s", op, d.state))
	}
	return StateWaitingRQ
}

func (d *Daemon) flush() State {
	switch d.state {
	case StateRRQSendPacket:
		return d.sendData()
	case StateWRQSendAck:
		return d.sendAck()
	}
	return d.state
}

func (d *Daemon) sendData() State {
	n, err := d.storage.ReadBlock(d.send[HeaderSize:], d.block)
	if err != nil {
		d.fail(err)
		return StateWaitingRQ
	}
	binary.BigEndian.PutUint16(d.send[0:], uint16(OpDATA))
	binary.BigEndian.PutUint16(d.send[2:], uint16(d.block))
	d.lastBlock = n < BlockSize
	d.xfer.Bytes += int64(n)
	if err := d.conn.SendTo(d.send[:HeaderSize+n], d.xfer.Peer); err != nil {
		glog.Warningf("tftp: send DATA %d to %s: %v", d.block, d.xfer.Peer, err)
	}
	return StateRRQRecvAck
}

func (d *Daemon) sendAck() State {
	if d.lastBlock {
		if err := d.storage.Close(); err != nil {
			d.fail(err)
			return StateWaitingRQ
		}
	}
	if err := d.conn.SendTo(AppendAck(d.send[:0], d.block), d.xfer.Peer); err != nil {
		glog.Warningf("tftp: send ACK %d to %s: %v", d.block, d.xfer.Peer, err)
	}
	if d.lastBlock {
		d.finished, d.finishedBy = d.block, d.xfer.Peer
		d.complete()
		return StateWaitingRQ
	}
	return StateWRQRecvPacket
}

// reackFinished acknowledges a retransmitted final DATA block of the
// write which just completed.
func (d *Daemon) reackFinished(pkt []byte, from netip.AddrPort) bool {
	if d.state != StateWaitingRQ || !d.finishedBy.IsValid() || from != d.finishedBy {
		return false
	}
	data, err := ParseData(pkt)
	if err != nil || data.Block != d.finished {
		return false
	}
	glog.V(2).Infof("tftp: final DATA %d from %s again", data.Block, from)
	if err := d.conn.SendTo(AppendAck(d.send[:0], data.Block), from); err != nil {
		glog.Warningf("tftp: send ACK %d to %s: %v", data.Block, from, err)
	}
	return true
}

func (d *Daemon) checkIdle() {
	if d.idleTimeout <= 0 || !d.active() {
		return
	}
	if d.now().Sub(d.lastActivity) < d.idleTimeout {
		return
	}
	d.sendError(d.xfer.Peer, ErrCodeNotDefined, "timeout")
	d.abort(ErrIdleTimeout)
	d.state = StateWaitingRQ
}

// fail reports a storage error to the peer and aborts the session.
func (d *Daemon) fail(err error) {
	terr := errorFor(err)
	d.sendError(d.xfer.Peer, terr.Code, terr.Message)
	d.abort(err)
}

func (d *Daemon) abort(err error) {
	var cerr error
	if a, ok := d.storage.(Aborter); ok {
		cerr = a.Abort()
	} else {
		cerr = d.storage.Close()
	}
	if cerr != nil {
		glog.Warningf("tftp: release %q: %v", d.xfer.Filename, cerr)
	}
	glog.Warningf("tftp: %s %q with %s failed: %v", d.xfer.Op, d.xfer.Filename, d.xfer.Peer, err)
	d.observer.TransferFailed(d.xfer, err)
	d.xfer = Transfer{}
}

func (d *Daemon) complete() {
	glog.Infof("tftp: %s %q with %s complete, %d bytes", d.xfer.Op, d.xfer.Filename, d.xfer.Peer, d.xfer.Bytes)
	d.observer.TransferCompleted(d.xfer)
	d.xfer = Transfer{}
}

func (d *Daemon) sendError(to netip.AddrPort, code ErrorCode, msg string) {
	if err := d.conn.SendTo(AppendError(d.send[:0], code, msg), to); err != nil {
		glog.Warningf("tftp: send ERROR to %s: %v", to, err)
	}
}
