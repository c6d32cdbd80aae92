package device

import (
	"strings"
	"testing"

	"github.com/veesix-networks/dhcpmon/pkg/dhcp"
)

func TestCountersIncAndIncreased(t *testing.T) {
	var c Counters
	req := uint8(dhcp.DHCPRequest)

	if !c.Inc(TX, dhcp.V4, req) {
		t.Fatal("Inc of a valid code returned false")
	}
	if c.Inc(TX, dhcp.V4, dhcp.MaxTypeCode) {
		t.Fatal("Inc of an out-of-range code must be ignored")
	}
	if got := c.Get(Current, TX, dhcp.V4, req); got != 1 {
		t.Fatalf("Current TX Request = %d, want 1", got)
	}
	if got := c.Get(Current, TX, dhcp.V6, req); got != 0 {
		t.Fatalf("v6 cell must be independent, got %d", got)
	}
	if !c.Increased(TX, dhcp.V4, req) {
		t.Fatal("expected TX Request to have increased")
	}
	if c.Increased(RX, dhcp.V4, req) {
		t.Fatal("RX Request must not have increased")
	}

	c.Advance()
	if c.Increased(TX, dhcp.V4, req) {
		t.Fatal("no increase expected after Advance")
	}
	if got := c.Get(Current, TX, dhcp.V4, req); got != 1 {
		t.Fatalf("Advance must not reset Current, got %d", got)
	}
}

func TestCountersFormat(t *testing.T) {
	var c Counters
	c.Inc(RX, dhcp.V4, uint8(dhcp.DHCPDiscover))
	c.Inc(RX, dhcp.V4, uint8(dhcp.DHCPDiscover))
	c.Inc(TX, dhcp.V4, uint8(dhcp.DHCPOffer))

	out := c.Format(Current, dhcp.V4)
	for _, want := range []string{"RX[Discover:2 Offer:0", "TX[Discover:0 Offer:1", "Inform:0]"} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() = %q, missing %q", out, want)
		}
	}

	snap := c.Format(Snapshot, dhcp.V4)
	if strings.Contains(snap, "Discover:2") {
		t.Errorf("snapshot should still be zero, got %q", snap)
	}
}

func TestCountersExport(t *testing.T) {
	var c Counters
	c.Inc(RX, dhcp.V6, uint8(dhcp.DHCPv6Solicit))

	tbl := c.Export(Current)
	if got := tbl[dhcp.V6][RX][uint8(dhcp.DHCPv6Solicit)]; got != 1 {
		t.Fatalf("exported Solicit = %d, want 1", got)
	}
	if _, ok := tbl[dhcp.V6][RX][uint8(dhcp.DHCPv6RelayForward)]; ok {
		t.Fatal("relay envelopes must not appear in exported tables")
	}
	if len(tbl[dhcp.V4][TX]) != 8 {
		t.Fatalf("v4 table has %d types, want 8", len(tbl[dhcp.V4][TX]))
	}
}
