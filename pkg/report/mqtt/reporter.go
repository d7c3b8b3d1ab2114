package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/lightnode.go/pkg/framework"
	"github.com/robotalks/lightnode.go/pkg/remote"
	"github.com/robotalks/lightnode.go/pkg/tftp"
)

// Meta is the retained node description.
type Meta struct {
	Name     string   `json:"name"`
	Hostname string   `json:"hostname"`
	Addr     string   `json:"addr,omitempty"`
	NodeType string   `json:"type"`
	Version  string   `json:"version"`
	Services []string `json:"services"`
	TFTP     bool     `json:"tftp"`
}

// Event types
const (
	EventTransferStarted   = "transfer.started"
	EventTransferCompleted = "transfer.completed"
	EventTransferFailed    = "transfer.failed"
)

// Event is a TFTP transfer event.
type Event struct {
	Event string    `json:"event"`
	Time  time.Time `json:"time"`
	Op    string    `json:"op"`
	File  string    `json:"file"`
	Mode  string    `json:"mode"`
	Peer  string    `json:"peer"`
	Bytes int64     `json:"bytes"`
	Error string    `json:"error,omitempty"`
}

// Reporter publishes under <prefix><node>/:
//
//	meta    retained Meta, cleared by the will or on exit
//	events  transfer events
//	cmd     command lines, executed by the remote daemon
//	reply   replies to cmd
type Reporter struct {
	Queue *Queue
	Node  string
	Now   func() time.Time

	lock     sync.Mutex
	metaJSON []byte
	ctl      fx.LoopControl
}

// NewReporter creates a Reporter connecting to brokerURL.
func NewReporter(brokerURL, node string) (*Reporter, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	opts.SetBinaryWill(topicPrefix+node+"/meta", nil, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("lightnode:" + node)
	}
	return newReporter(NewQueue(opts, topicPrefix), node), nil
}

func newReporter(q *Queue, node string) *Reporter {
	r := &Reporter{Queue: q, Node: node, Now: time.Now}
	q.OnConnect = func(*Queue) { r.publishMeta() }
	q.Sub(node+"/cmd", r.onCommand)
	return r
}

// SetMeta replaces the node description and publishes it.
func (r *Reporter) SetMeta(meta Meta) {
	encoded, err := json.Marshal(&meta)
	if err != nil {
		glog.Errorf("mqtt: encode meta: %v", err)
		return
	}
	r.lock.Lock()
	r.metaJSON = encoded
	r.lock.Unlock()
	r.publishMeta()
}

// TransferStarted implements tftp.Observer.
func (r *Reporter) TransferStarted(x tftp.Transfer) {
	r.publishEvent(EventTransferStarted, x, nil)
}

// TransferCompleted implements tftp.Observer.
func (r *Reporter) TransferCompleted(x tftp.Transfer) {
	r.publishEvent(EventTransferCompleted, x, nil)
}

// TransferFailed implements tftp.Observer.
func (r *Reporter) TransferFailed(x tftp.Transfer, err error) {
	r.publishEvent(EventTransferFailed, x, err)
}

// AddToLoop implements fx.LoopAdder.
func (r *Reporter) AddToLoop(loop *fx.Loop) {
	r.lock.Lock()
	r.ctl = loop
	r.lock.Unlock()
	loop.AddRunnable(r)
}

// Run implements fx.Runnable.
func (r *Reporter) Run(ctx context.Context) error {
	r.Queue.Connect()
	<-ctx.Done()
	r.Queue.Pub(r.Node+"/meta", nil, true).WaitTimeout(time.Second)
	return r.Queue.Close()
}

func (r *Reporter) publishMeta() {
	r.lock.Lock()
	meta := r.metaJSON
	r.lock.Unlock()
	if meta != nil && r.Queue.Client.IsConnected() {
		r.Queue.Pub(r.Node+"/meta", meta, true)
	}
}

func (r *Reporter) publishEvent(typ string, x tftp.Transfer, err error) {
	ev := Event{
		Event: typ,
		Time:  r.Now(),
		Op:    x.Op.String(),
		File:  x.Filename,
		Mode:  x.Mode.String(),
		Peer:  x.Peer.String(),
		Bytes: x.Bytes,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	payload, err := json.Marshal(&ev)
	if err != nil {
		glog.Errorf("mqtt: encode event: %v", err)
		return
	}
	r.Queue.Pub(r.Node+"/events", payload, false)
}

func (r *Reporter) onCommand(topic string, payload []byte) {
	r.lock.Lock()
	ctl := r.ctl
	r.lock.Unlock()
	if ctl == nil || len(payload) == 0 {
		return
	}
	ctl.PostMessage(&remote.CommandMsg{
		Line: string(payload),
		Reply: func(reply string) {
			r.Queue.Pub(r.Node+"/reply", []byte(reply), false)
		},
	})
	ctl.TriggerNext()
}
