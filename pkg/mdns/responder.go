// Package mdns implements a multicast DNS responder (RFC 6762) advertising
// the node's services with DNS-SD (RFC 6763).
package mdns

import (
	"fmt"
	"io"
	"net/netip"
	"strings"

	"github.com/golang/glog"
	"golang.org/x/net/dns/dnsmessage"

	fx "github.com/robotalks/lightnode.go/pkg/framework"
	"github.com/robotalks/lightnode.go/pkg/udp"
)

// Well-known mDNS endpoint.
const (
	Port = 5353
)

var (
	// Group is the IPv4 mDNS multicast group.
	Group = netip.MustParseAddr("224.0.0.251")
	// MulticastAddr is the destination of multicast responses.
	MulticastAddr = netip.AddrPortFrom(Group, Port)
)

// Defaults of ResponderConfig.
const (
	DefaultMaxServiceRecords = 8
	DefaultServiceTTL        = 4500
	DefaultHostTTL           = 120
	DefaultHostname          = "lightnode"

	// legacy unicast responses must not be cached for long (RFC 6762 6.7)
	legacyTTL = 10
	// receive buffer, the mDNS message size limit (RFC 6762 17)
	maxMessageSize = 9000
)

// ResponderConfig configures a Responder.
type ResponderConfig struct {
	// Hostname is the host label, published as <Hostname>.local.
	Hostname string
	// Addr is the IPv4 address published in A records.
	Addr netip.Addr
	// MaxRecords bounds the service registry.
	MaxRecords int
	// ServiceTTL is the TTL of PTR/SRV/TXT answers in seconds.
	ServiceTTL uint32
	// HostTTL is the TTL of A answers in seconds.
	HostTTL uint32
}

// Responder answers mDNS queries for the host name and the registered
// services. It is driven by Poll and never blocks.
type Responder struct {
	conn    udp.Conn
	cfg     ResponderConfig
	host    string
	records []ServiceRecord
	buf     []byte
}

// NewResponder creates a Responder on a conn bound to port 5353.
func NewResponder(conn udp.Conn, cfg ResponderConfig) *Responder {
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = DefaultMaxServiceRecords
	}
	if cfg.ServiceTTL == 0 {
		cfg.ServiceTTL = DefaultServiceTTL
	}
	if cfg.HostTTL == 0 {
		cfg.HostTTL = DefaultHostTTL
	}
	cfg.Hostname = hostLabel(cfg.Hostname)
	if !ValidLabel(cfg.Hostname) {
		if cfg.Hostname != "" {
			glog.Warningf("mdns: invalid host name %q, using %s", cfg.Hostname, DefaultHostname)
		}
		cfg.Hostname = DefaultHostname
	}
	return &Responder{
		conn: conn,
		cfg:  cfg,
		host: cfg.Hostname + ".local.",
		buf:  make([]byte, maxMessageSize),
	}
}

// ValidLabel reports whether s fits in a single DNS label.
func ValidLabel(s string) bool {
	return s != "" && len(s) <= 63 && !strings.ContainsRune(s, '.')
}

// ValidHostname reports whether name, with or without the ".local"
// suffix, is usable as the host name.
func ValidHostname(name string) bool {
	return ValidLabel(hostLabel(name))
}

func hostLabel(name string) string {
	return strings.TrimSuffix(strings.TrimSuffix(name, "."), ".local")
}

// HostName returns the fully qualified host name.
func (r *Responder) HostName() string {
	return r.host
}

// AddServiceRecord registers a service instance. A zero port selects the
// default port of kind. It returns false when the registry is full or the
// record is invalid, including a text too long to announce in one
// message; the registry is unchanged then.
// Records must be added before polling starts.
func (r *Responder) AddServiceRecord(name string, kind ServiceKind, text []byte, port uint16) bool {
	if len(r.records) >= r.cfg.MaxRecords {
		return false
	}
	if !ValidLabel(name) || !kind.Valid() {
		return false
	}
	if port == 0 {
		port = kind.DefaultPort()
	}
	rec := ServiceRecord{
		Name: name,
		Kind: kind,
		Text: append([]byte(nil), text...),
		Port: port,
	}
	msg, err := r.pack(r.announcement(&rec, r.cfg.ServiceTTL), 0, nil, false)
	if err != nil || len(msg) > maxMessageSize {
		glog.Warningf("mdns: %s does not fit in a message: %d bytes of text", rec.InstanceName(), len(text))
		return false
	}
	r.records = append(r.records, rec)
	return true
}

// Records returns a copy of the registry.
func (r *Responder) Records() []ServiceRecord {
	return append([]ServiceRecord(nil), r.records...)
}

// SendAnnouncement multicasts one unsolicited response per registered
// record. A ttl of 0 announces the records are going away.
func (r *Responder) SendAnnouncement(ttl uint32) error {
	var errs fx.AggregatedError
	for i := range r.records {
		errs.Add(r.send(r.announcement(&r.records[i], ttl), 0, nil, false, MulticastAddr))
	}
	return errs.Aggregate()
}

func (r *Responder) announcement(rec *ServiceRecord, ttl uint32) *response {
	resp := &response{}
	resp.answer(r.servicePTR(rec).withTTL(ttl))
	resp.answer(r.srv(rec).withTTL(ttl))
	resp.answer(r.txt(rec).withTTL(ttl))
	if r.cfg.Addr.Is4() {
		resp.answer(r.hostA().withTTL(ttl))
	}
	return resp
}

// Poll receives at most one datagram and answers it.
func (r *Responder) Poll() {
	n, from, err := r.conn.RecvFrom(r.buf)
	if err != nil {
		glog.Warningf("mdns: receive: %v", err)
		return
	}
	if n == 0 {
		return
	}
	msg := r.buf[:n]
	h, err := DecodeHeader(msg)
	if err != nil {
		glog.V(2).Infof("mdns: drop %d bytes from %s", n, from)
		return
	}
	if h.Opcode() != 0 || h.IsResponse() {
		return
	}
	r.handleQuestions(msg, h, from)
}

// Control implements fx.Controller.
func (r *Responder) Control(fx.ControlContext) error {
	r.Poll()
	return nil
}

// AddToLoop implements fx.LoopAdder.
func (r *Responder) AddToLoop(loop *fx.Loop) {
	loop.AddController(fx.PrLvDiscovery, r)
}

// Print writes the responder state.
func (r *Responder) Print(w io.Writer) {
	fmt.Fprintln(w, "mDNS")
	fmt.Fprintf(w, " Name     : %s\n", r.host)
	if r.cfg.Addr.IsValid() {
		fmt.Fprintf(w, " Address  : %s\n", r.cfg.Addr)
	}
	fmt.Fprintf(w, " Services : %d/%d\n", len(r.records), r.cfg.MaxRecords)
	for _, rec := range r.records {
		fmt.Fprintf(w, "  %-12s %-20s %5d %q\n", rec.Kind, rec.InstanceName(), rec.Port, rec.Text)
	}
}

// Close sends goodbye announcements and closes the connection.
func (r *Responder) Close() error {
	var errs fx.AggregatedError
	errs.Add(r.SendAnnouncement(0), r.conn.Close())
	return errs.Aggregate()
}

func (r *Responder) handleQuestions(msg []byte, h Header, from netip.AddrPort) {
	var p dnsmessage.Parser
	if _, err := p.Start(msg); err != nil {
		return
	}
	legacy := from.Port() != Port
	var unicast, multicast response
	var questions []dnsmessage.Question
	for i := 0; i < int(h.QDCount); i++ {
		q, err := p.Question()
		if err != nil {
			glog.V(2).Infof("mdns: question %d from %s: %v", i, from, err)
			break
		}
		questions = append(questions, q)
		resp := &multicast
		if legacy || q.Class&classUnicast != 0 {
			resp = &unicast
		}
		r.answerQuestion(q, resp)
	}

	if !multicast.empty() {
		if err := r.send(&multicast, 0, nil, false, MulticastAddr); err != nil {
			glog.Warningf("mdns: multicast response: %v", err)
		}
	}
	if !unicast.empty() {
		if !legacy {
			questions = nil
		}
		if err := r.send(&unicast, h.ID, questions, legacy, from); err != nil {
			glog.Warningf("mdns: unicast response to %s: %v", from, err)
		}
	}
}

func (r *Responder) send(resp *response, id uint16, questions []dnsmessage.Question, legacy bool, to netip.AddrPort) error {
	msg, err := r.pack(resp, id, questions, legacy)
	if err != nil {
		return err
	}
	glog.V(2).Infof("mdns: %d answers to %s", len(resp.answers), to)
	return r.conn.SendTo(msg, to)
}
