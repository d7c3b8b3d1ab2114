package mdns

import (
	"fmt"
	"strings"
)

// ServiceKind enumerates the services a node can advertise.
type ServiceKind int

// Service kinds
const (
	ServiceConfig ServiceKind = iota
	ServiceTFTP
	ServiceHTTP
	ServiceRDMNetLLRP
	ServiceNTP
	ServiceMIDI
	ServiceOSC
	ServiceDDP
	ServicePixelPusher

	numServiceKinds
)

type serviceInfo struct {
	name  string
	typ   string
	port  uint16
	alias string
}

var serviceInfos = [numServiceKinds]serviceInfo{
	ServiceConfig:      {"Config", "_config._udp", 10501, "config"},
	ServiceTFTP:        {"TFTP", "_tftp._udp", 69, "tftp"},
	ServiceHTTP:        {"HTTP", "_http._tcp", 80, "http"},
	ServiceRDMNetLLRP:  {"RDMNet LLRP", "_rdmnet-llrp._udp", 5569, "llrp"},
	ServiceNTP:         {"NTP", "_ntp._udp", 123, "ntp"},
	ServiceMIDI:        {"MIDI", "_apple-midi._udp", 5004, "midi"},
	ServiceOSC:         {"OSC", "_osc._udp", 8000, "osc"},
	ServiceDDP:         {"DDP", "_ddp._udp", 4048, "ddp"},
	ServicePixelPusher: {"PixelPusher", "_pp._udp", 7331, "pp"},
}

// Valid reports whether k is a known kind.
func (k ServiceKind) Valid() bool {
	return k >= 0 && k < numServiceKinds
}

func (k ServiceKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("ServiceKind(%d)", int(k))
	}
	return serviceInfos[k].name
}

// ServiceType returns the DNS-SD service type, e.g. "_http._tcp".
func (k ServiceKind) ServiceType() string {
	if !k.Valid() {
		return ""
	}
	return serviceInfos[k].typ
}

// Alias returns the short name of k, e.g. "http".
func (k ServiceKind) Alias() string {
	if !k.Valid() {
		return ""
	}
	return serviceInfos[k].alias
}

// DefaultPort returns the port advertised when none is given.
func (k ServiceKind) DefaultPort() uint16 {
	if !k.Valid() {
		return 0
	}
	return serviceInfos[k].port
}

// ParseServiceKind maps a short name ("http", "osc", ...) or a
// service type ("_http._tcp") to a ServiceKind.
func ParseServiceKind(s string) (ServiceKind, error) {
	s = strings.ToLower(strings.TrimSuffix(s, ".local."))
	for k, info := range serviceInfos {
		if s == info.alias || s == info.typ || s == strings.ToLower(info.name) {
			return ServiceKind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown service %q", s)
}

// ServiceRecord is a registered service instance.
type ServiceRecord struct {
	Name string
	Kind ServiceKind
	Text []byte
	Port uint16
}

// ServiceName returns the fully qualified service type name.
func (r *ServiceRecord) ServiceName() string {
	return r.Kind.ServiceType() + ".local."
}

// InstanceName returns the fully qualified instance name.
func (r *ServiceRecord) InstanceName() string {
	return r.Name + "." + r.ServiceName()
}

// txtStrings splits Text into TXT character strings.
func (r *ServiceRecord) txtStrings() []string {
	if len(r.Text) == 0 {
		return []string{""}
	}
	var strs []string
	for text := r.Text; len(text) > 0; {
		n := len(text)
		if n > 255 {
			n = 255
		}
		strs = append(strs, string(text[:n]))
		text = text[n:]
	}
	return strs
}
