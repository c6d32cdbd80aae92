package device

import (
	"fmt"
	"net"

	"inet.af/netaddr"
)

type Role uint8

const (
	RoleDownlink Role = iota
	RoleUplink
	RoleManagement
	RoleAggregate
)

func (r Role) String() string {
	switch r {
	case RoleDownlink:
		return "downlink"
	case RoleUplink:
		return "uplink"
	case RoleManagement:
		return "management"
	case RoleAggregate:
		return "aggregate"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// AggregatePrefix names the synthetic device that sums the relay path.
const AggregatePrefix = "Agg-"

// Device is the monitoring context of one configured interface, or of the
// synthetic aggregate. Only the reactor goroutine mutates it.
type Device struct {
	Name  string
	Role  Role
	Index int
	MAC   net.HardwareAddr
	IPv4  netaddr.IP
	IPv6  netaddr.IP
	// Gateway is the relay address compared against giaddr and the IPv4
	// destination of server replies.
	Gateway  netaddr.IP
	Counters Counters
}

// RelayPath reports whether events on this device feed the aggregate.
func (d *Device) RelayPath() bool {
	return d.Role == RoleDownlink || d.Role == RoleUplink
}

func (d *Device) String() string {
	return fmt.Sprintf("%s(%s)", d.Name, d.Role)
}
