package node

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

// ErrNoAddress is returned when no usable IPv4 address is found.
var ErrNoAddress = errors.New("no IPv4 address")

// MachineID retrieves an application specific ID of the machine.
func MachineID() (string, error) {
	return machineid.ProtectedID("lightnode")
}

// DefaultHostname derives a host name from the machine ID, falling back
// to the OS host name.
func DefaultHostname() string {
	if id, err := MachineID(); err == nil && len(id) >= 6 {
		return "lightnode-" + id[:6]
	} else if err != nil {
		glog.V(2).Infof("machine id: %v", err)
	}
	if name, err := os.Hostname(); err == nil && name != "" {
		name, _, _ = strings.Cut(name, ".")
		return name
	}
	return "lightnode"
}

// InterfaceAddr returns the first IPv4 address of the named interface,
// or of the first up, non-loopback interface when name is empty.
func InterfaceAddr(name string) (netip.Addr, error) {
	var ifaces []net.Interface
	if name != "" {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return netip.Addr{}, err
		}
		ifaces = append(ifaces, *iface)
	} else {
		all, err := net.Interfaces()
		if err != nil {
			return netip.Addr{}, err
		}
		for _, iface := range all {
			if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 {
				ifaces = append(ifaces, iface)
			}
		}
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if addr, ok := firstIPv4(addrs); ok {
			return addr, nil
		}
	}
	if name != "" {
		return netip.Addr{}, fmt.Errorf("%s: %w", name, ErrNoAddress)
	}
	return netip.Addr{}, ErrNoAddress
}

func firstIPv4(addrs []net.Addr) (netip.Addr, bool) {
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if addr, ok := netip.AddrFromSlice(ipnet.IP); ok {
			addr = addr.Unmap()
			if addr.Is4() && !addr.IsLoopback() {
				return addr, true
			}
		}
	}
	return netip.Addr{}, false
}
