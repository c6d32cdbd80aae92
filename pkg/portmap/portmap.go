// Package portmap maps physical ports to the logical devices that own them
// and reports dual-ToR mux state.
package portmap

import (
	"sort"
	"strings"
)

// Mapper answers port-to-logical-device questions. A miss is not an error.
type Mapper interface {
	VLANOf(port string) (string, bool)
	PortChannelOf(port string) (string, bool)
	MgmtOf(port string) (string, bool)
	// HasMembers reports whether name is itself a VLAN or port-channel
	// with at least one member port.
	HasMembers(name string) bool
}

// MuxStateReader reports the dual-ToR mux cable state of a port.
type MuxStateReader interface {
	IsStandby(port string) (bool, error)
}

// Table is an in-memory Mapper. Loaders fill it once at startup.
type Table struct {
	vlan        map[string]string
	portChannel map[string]string
	mgmt        map[string]string
	members     map[string]int
}

func NewTable() *Table {
	return &Table{
		vlan:        make(map[string]string),
		portChannel: make(map[string]string),
		mgmt:        make(map[string]string),
		members:     make(map[string]int),
	}
}

func (t *Table) AddVLANMember(vlan, port string) {
	if _, ok := t.vlan[port]; !ok {
		t.members[vlan]++
	}
	t.vlan[port] = vlan
}

func (t *Table) AddPortChannelMember(pc, port string) {
	if _, ok := t.portChannel[port]; !ok {
		t.members[pc]++
	}
	t.portChannel[port] = pc
}

// AddMgmtPort marks port as belonging to the management device named mgmt.
func (t *Table) AddMgmtPort(mgmt, port string) {
	t.mgmt[port] = mgmt
}

func (t *Table) VLANOf(port string) (string, bool) {
	v, ok := t.vlan[port]
	return v, ok
}

func (t *Table) PortChannelOf(port string) (string, bool) {
	pc, ok := t.portChannel[port]
	return pc, ok
}

func (t *Table) MgmtOf(port string) (string, bool) {
	m, ok := t.mgmt[port]
	return m, ok
}

func (t *Table) HasMembers(name string) bool {
	return t.members[name] > 0
}

// Ports lists every mapped port, sorted.
func (t *Table) Ports() []string {
	seen := make(map[string]struct{})
	for _, m := range []map[string]string{t.vlan, t.portChannel, t.mgmt} {
		for p := range m {
			seen[p] = struct{}{}
		}
	}
	ports := make([]string, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Strings(ports)
	return ports
}

// splitKey splits a SONiC "TABLE|a|b" key into its table and parts.
func splitKey(key string) (string, []string) {
	parts := strings.Split(key, "|")
	return parts[0], parts[1:]
}
