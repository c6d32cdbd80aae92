package ifmgr

import (
	"net"
	"testing"

	"inet.af/netaddr"
)

func TestStaticLookup(t *testing.T) {
	mac, _ := net.ParseMAC("02:00:00:00:00:01")
	m := NewStatic(
		&Interface{Index: 4, Name: "Vlan1000", MAC: mac},
		&Interface{Index: 7, Name: "PortChannel01"},
	)

	iface, err := m.Lookup("Vlan1000")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if iface.Index != 4 {
		t.Errorf("Index = %d, want 4", iface.Index)
	}

	name, ok := m.NameByIndex(7)
	if !ok || name != "PortChannel01" {
		t.Errorf("NameByIndex(7) = %q, %v", name, ok)
	}

	if _, ok := m.NameByIndex(99); ok {
		t.Error("NameByIndex(99) should miss")
	}
	if _, err := m.Lookup("eth9"); err == nil {
		t.Error("Lookup of unknown interface should fail without netlink")
	}
}

func TestPrimaryAddresses(t *testing.T) {
	iface := &Interface{
		IPv4Addresses: []netaddr.IP{netaddr.MustParseIP("192.0.2.1"), netaddr.MustParseIP("192.0.2.2")},
		IPv6Addresses: []netaddr.IP{netaddr.MustParseIP("fe80::1"), netaddr.MustParseIP("2001:db8::1")},
	}

	if got := iface.PrimaryIPv4(); got != netaddr.MustParseIP("192.0.2.1") {
		t.Errorf("PrimaryIPv4 = %v", got)
	}
	if got := iface.PrimaryIPv6(); got != netaddr.MustParseIP("2001:db8::1") {
		t.Errorf("PrimaryIPv6 = %v, want global address", got)
	}

	empty := &Interface{}
	if !empty.PrimaryIPv4().IsZero() || !empty.PrimaryIPv6().IsZero() {
		t.Error("empty interface should report zero addresses")
	}

	linkLocalOnly := &Interface{IPv6Addresses: []netaddr.IP{netaddr.MustParseIP("fe80::2")}}
	if got := linkLocalOnly.PrimaryIPv6(); got != netaddr.MustParseIP("fe80::2") {
		t.Errorf("PrimaryIPv6 = %v, want link-local fallback", got)
	}
}
