// Package browse discovers nodes by sending one-shot mDNS queries.
package browse

import (
	"context"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/miekg/dns"
)

// Entry is a discovered service instance.
type Entry struct {
	Instance string   `json:"instance"`
	Service  string   `json:"service"`
	Host     string   `json:"host,omitempty"`
	Addr     net.IP   `json:"addr,omitempty"`
	Port     uint16   `json:"port,omitempty"`
	Text     []string `json:"text,omitempty"`
}

// Query builds a PTR query for service, e.g. "_tftp._udp" or the
// "_services._dns-sd._udp" meta query.
func Query(service string) *dns.Msg {
	if !strings.HasSuffix(strings.TrimSuffix(service, "."), ".local") {
		service = strings.TrimSuffix(service, ".") + ".local"
	}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(service), dns.TypePTR)
	m.RecursionDesired = false
	return m
}

// Browse multicasts a query for service and collects the responses
// until timeout or ctx is done. The query is sent from an ephemeral
// port so responders answer by unicast.
func Browse(ctx context.Context, service string, timeout time.Duration) ([]Entry, error) {
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	out, err := Query(service).Pack()
	if err != nil {
		return nil, err
	}
	if _, err = conn.WriteToUDP(out, &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: 5353}); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	var msgs []*dns.Msg
	buf := make([]byte, 9000)
	for ctx.Err() == nil {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				break
			}
			return nil, err
		}
		msg := new(dns.Msg)
		if err := msg.Unpack(buf[:n]); err != nil {
			glog.V(2).Infof("browse: bad response from %s: %v", from, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return Collect(msgs...), nil
}

// Collect assembles entries from response messages. PTR answers name the
// instances; SRV, TXT and A records from any message fill in the details.
func Collect(msgs ...*dns.Msg) []Entry {
	entries := make(map[string]*Entry)
	srvs := make(map[string]*dns.SRV)
	txts := make(map[string][]string)
	addrs := make(map[string]net.IP)
	for _, msg := range msgs {
		rrs := append(append([]dns.RR(nil), msg.Answer...), msg.Extra...)
		for _, rr := range rrs {
			name := strings.ToLower(rr.Header().Name)
			switch rec := rr.(type) {
			case *dns.PTR:
				key := strings.ToLower(rec.Ptr)
				if _, ok := entries[key]; !ok {
					entries[key] = &Entry{Instance: rec.Ptr, Service: rec.Hdr.Name}
				}
			case *dns.SRV:
				srvs[name] = rec
			case *dns.TXT:
				txts[name] = rec.Txt
			case *dns.A:
				addrs[name] = rec.A
			}
		}
	}

	result := make([]Entry, 0, len(entries))
	for key, entry := range entries {
		if srv := srvs[key]; srv != nil {
			entry.Host = srv.Target
			entry.Port = srv.Port
			entry.Addr = addrs[strings.ToLower(srv.Target)]
		}
		entry.Text = txts[key]
		result = append(result, *entry)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Instance < result[j].Instance
	})
	return result
}
