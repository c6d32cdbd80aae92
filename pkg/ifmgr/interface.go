package ifmgr

import (
	"net"

	"inet.af/netaddr"
)

// Interface is a kernel network interface as seen through netlink.
type Interface struct {
	Index         int
	Name          string
	MAC           net.HardwareAddr
	MTU           int
	OperUp        bool
	IPv4Addresses []netaddr.IP
	IPv6Addresses []netaddr.IP
}

// PrimaryIPv4 returns the first IPv4 address, or the zero IP.
func (i *Interface) PrimaryIPv4() netaddr.IP {
	if len(i.IPv4Addresses) == 0 {
		return netaddr.IP{}
	}
	return i.IPv4Addresses[0]
}

// PrimaryIPv6 prefers a global address over link-local.
func (i *Interface) PrimaryIPv6() netaddr.IP {
	for _, ip := range i.IPv6Addresses {
		if !ip.IsLinkLocalUnicast() {
			return ip
		}
	}
	if len(i.IPv6Addresses) > 0 {
		return i.IPv6Addresses[0]
	}
	return netaddr.IP{}
}
