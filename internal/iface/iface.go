// Package iface resolves a named network interface to its bound IPv4
// address, the Go analogue of an ioctl(SIOCGIFADDR) call. Grounded on
// gnbsim's own LinkByName+AddrList lookup used to resolve a tunnel
// interface's address before binding.
package iface

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// ResolveIPv4 returns the first IPv4 address bound to the named interface.
func ResolveIPv4(name string) (net.IP, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("iface: lookup %q: %w", name, err)
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("iface: list addresses on %q: %w", name, err)
	}
	for _, a := range addrs {
		if a.IP.To4() != nil {
			return a.IP.To4(), nil
		}
	}
	return nil, fmt.Errorf("iface: %q has no IPv4 address", name)
}
