package mdns

import (
	"strings"

	"golang.org/x/net/dns/dnsmessage"
)

const (
	// MetaQueryName enumerates service types (RFC 6763 9).
	MetaQueryName = "_services._dns-sd._udp.local."

	// top bit of qclass requests a unicast response, of rrclass flushes caches
	classUnicast    dnsmessage.Class = 0x8000
	classCacheFlush dnsmessage.Class = 0x8000
)

type resource struct {
	name   string
	typ    dnsmessage.Type
	ttl    uint32
	unique bool
	target string
	rec    *ServiceRecord
}

func (rs resource) withTTL(ttl uint32) resource {
	rs.ttl = ttl
	return rs
}

type resourceKey struct {
	name   string
	typ    dnsmessage.Type
	target string
}

func (rs resource) key() resourceKey {
	return resourceKey{name: strings.ToLower(rs.name), typ: rs.typ, target: rs.target}
}

type response struct {
	answers     []resource
	additionals []resource
	seen        map[resourceKey]bool
}

func (resp *response) empty() bool {
	return len(resp.answers) == 0
}

func (resp *response) add(rs resource) bool {
	if resp.seen == nil {
		resp.seen = make(map[resourceKey]bool)
	}
	key := rs.key()
	if resp.seen[key] {
		return false
	}
	resp.seen[key] = true
	return true
}

func (resp *response) answer(rs resource) {
	if !resp.add(rs) {
		// promote to an answer if it was an additional record
		for i, add := range resp.additionals {
			if add.key() == rs.key() {
				resp.additionals = append(resp.additionals[:i], resp.additionals[i+1:]...)
				resp.answers = append(resp.answers, rs)
				return
			}
		}
		return
	}
	resp.answers = append(resp.answers, rs)
}

func (resp *response) additional(rs resource) {
	if resp.add(rs) {
		resp.additionals = append(resp.additionals, rs)
	}
}

func (r *Responder) hostA() resource {
	return resource{name: r.host, typ: dnsmessage.TypeA, ttl: r.cfg.HostTTL, unique: true}
}

func (r *Responder) servicePTR(rec *ServiceRecord) resource {
	return resource{name: rec.ServiceName(), typ: dnsmessage.TypePTR, ttl: r.cfg.ServiceTTL, target: rec.InstanceName()}
}

func (r *Responder) srv(rec *ServiceRecord) resource {
	return resource{name: rec.InstanceName(), typ: dnsmessage.TypeSRV, ttl: r.cfg.ServiceTTL, unique: true, rec: rec}
}

func (r *Responder) txt(rec *ServiceRecord) resource {
	return resource{name: rec.InstanceName(), typ: dnsmessage.TypeTXT, ttl: r.cfg.ServiceTTL, unique: true, rec: rec}
}

func (r *Responder) metaPTR(serviceName string) resource {
	return resource{name: MetaQueryName, typ: dnsmessage.TypePTR, ttl: r.cfg.ServiceTTL, target: serviceName}
}

func (r *Responder) answerQuestion(q dnsmessage.Question, resp *response) {
	name := q.Name.String()
	wants := func(t dnsmessage.Type) bool {
		return q.Type == t || q.Type == dnsmessage.TypeALL
	}

	if strings.EqualFold(name, r.host) {
		if wants(dnsmessage.TypeA) && r.cfg.Addr.Is4() {
			resp.answer(r.hostA())
		}
		return
	}
	if strings.EqualFold(name, MetaQueryName) {
		if wants(dnsmessage.TypePTR) {
			for i := range r.records {
				resp.answer(r.metaPTR(r.records[i].ServiceName()))
			}
		}
		return
	}
	for i := range r.records {
		rec := &r.records[i]
		switch {
		case strings.EqualFold(name, rec.ServiceName()):
			if wants(dnsmessage.TypePTR) {
				resp.answer(r.servicePTR(rec))
				resp.additional(r.srv(rec))
				resp.additional(r.txt(rec))
				r.addHost(resp)
			}
		case strings.EqualFold(name, rec.InstanceName()):
			if wants(dnsmessage.TypeSRV) {
				resp.answer(r.srv(rec))
				r.addHost(resp)
			}
			if wants(dnsmessage.TypeTXT) {
				resp.answer(r.txt(rec))
			}
		}
	}
}

func (r *Responder) addHost(resp *response) {
	if r.cfg.Addr.Is4() {
		resp.additional(r.hostA())
	}
}

func (r *Responder) pack(resp *response, id uint16, questions []dnsmessage.Question, legacy bool) ([]byte, error) {
	b := dnsmessage.NewBuilder(make([]byte, 0, 512), dnsmessage.Header{
		ID:            id,
		Response:      true,
		Authoritative: true,
	})
	b.EnableCompression()
	if len(questions) > 0 {
		if err := b.StartQuestions(); err != nil {
			return nil, err
		}
		for _, q := range questions {
			q.Class &^= classUnicast
			if err := b.Question(q); err != nil {
				return nil, err
			}
		}
	}
	if err := b.StartAnswers(); err != nil {
		return nil, err
	}
	for _, rs := range resp.answers {
		if err := r.appendResource(&b, rs, legacy); err != nil {
			return nil, err
		}
	}
	if err := b.StartAdditionals(); err != nil {
		return nil, err
	}
	for _, rs := range resp.additionals {
		if err := r.appendResource(&b, rs, legacy); err != nil {
			return nil, err
		}
	}
	return b.Finish()
}

func (r *Responder) appendResource(b *dnsmessage.Builder, rs resource, legacy bool) error {
	name, err := dnsmessage.NewName(rs.name)
	if err != nil {
		return err
	}
	hdr := dnsmessage.ResourceHeader{Name: name, Class: dnsmessage.ClassINET, TTL: rs.ttl}
	if legacy {
		if hdr.TTL > legacyTTL {
			hdr.TTL = legacyTTL
		}
	} else if rs.unique {
		hdr.Class |= classCacheFlush
	}

	switch rs.typ {
	case dnsmessage.TypeA:
		return b.AResource(hdr, dnsmessage.AResource{A: r.cfg.Addr.As4()})
	case dnsmessage.TypePTR:
		target, err := dnsmessage.NewName(rs.target)
		if err != nil {
			return err
		}
		return b.PTRResource(hdr, dnsmessage.PTRResource{PTR: target})
	case dnsmessage.TypeSRV:
		target, err := dnsmessage.NewName(r.host)
		if err != nil {
			return err
		}
		return b.SRVResource(hdr, dnsmessage.SRVResource{Port: rs.rec.Port, Target: target})
	case dnsmessage.TypeTXT:
		return b.TXTResource(hdr, dnsmessage.TXTResource{TXT: rs.rec.txtStrings()})
	}
	return nil
}
