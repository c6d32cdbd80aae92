package device

import (
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"inet.af/netaddr"

	"github.com/veesix-networks/dhcpmon/pkg/dhcp"
	"github.com/veesix-networks/dhcpmon/pkg/ifmgr"
	"github.com/veesix-networks/dhcpmon/pkg/portmap"
)

type fakeMux struct {
	standby map[string]bool
	err     error
}

func (f fakeMux) IsStandby(port string) (bool, error) {
	return f.standby[port], f.err
}

func testLinks() *ifmgr.Manager {
	return ifmgr.NewStatic(
		&ifmgr.Interface{Index: 10, Name: "Vlan1000", IPv4Addresses: []netaddr.IP{netaddr.MustParseIP("192.168.0.1")}},
		&ifmgr.Interface{Index: 20, Name: "PortChannel01"},
		&ifmgr.Interface{Index: 21, Name: "PortChannel02"},
		&ifmgr.Interface{Index: 2, Name: "eth0"},
		&ifmgr.Interface{Index: 1, Name: "Loopback0", IPv4Addresses: []netaddr.IP{netaddr.MustParseIP("10.1.0.32")}},
	)
}

func testMapper() *portmap.Table {
	return portmap.NewStatic(portmap.StaticConfig{
		VLANMembers:        map[string][]string{"Vlan1000": {"Ethernet4", "Ethernet8"}},
		PortChannelMembers: map[string][]string{"PortChannel01": {"Ethernet112"}, "PortChannel02": {"Ethernet116"}},
	})
}

func newTopology(t *testing.T, mux portmap.MuxStateReader) *Manager {
	t.Helper()
	m := NewManager(testLinks(), testMapper(), mux)
	_, err := m.AddDownlink("Vlan1000")
	require.NoError(t, err)
	_, err = m.AddUplink("PortChannel01")
	require.NoError(t, err)
	_, err = m.AddUplink("PortChannel02")
	require.NoError(t, err)
	_, err = m.AddManagement("eth0")
	require.NoError(t, err)
	require.NoError(t, m.Validate())
	return m
}

func TestTopologyRules(t *testing.T) {
	m := NewManager(testLinks(), nil, nil)

	err := m.Validate()
	assert.True(t, errors.Is(err, ErrTopology), "empty manager must fail validation")

	_, err = m.AddDownlink("Vlan1000")
	require.NoError(t, err)

	_, err = m.AddDownlink("Vlan1000")
	assert.True(t, errors.Is(err, ErrTopology), "second downlink")

	err = m.Validate()
	assert.True(t, errors.Is(err, ErrTopology), "no uplink")

	_, err = m.AddUplink("PortChannel01")
	require.NoError(t, err)
	_, err = m.AddUplink("PortChannel01")
	assert.True(t, errors.Is(err, ErrTopology), "duplicate uplink")

	_, err = m.AddManagement("eth0")
	require.NoError(t, err)
	_, err = m.AddManagement("eth0")
	assert.True(t, errors.Is(err, ErrTopology), "second management")

	_, err = m.AddUplink("Ethernet999")
	assert.Error(t, err, "unknown interface")

	assert.NoError(t, m.Validate())
}

func TestAggregateNaming(t *testing.T) {
	m := newTopology(t, nil)

	agg := m.Aggregate()
	require.NotNil(t, agg)
	assert.Equal(t, "Agg-Vlan1000", agg.Name)
	assert.Equal(t, RoleAggregate, agg.Role)
	assert.Equal(t, netaddr.MustParseIP("192.168.0.1"), m.Gateway())

	for _, d := range m.Devices() {
		assert.Equal(t, m.Gateway(), d.Gateway, d.Name)
	}
	assert.Len(t, m.Devices(), 5)
	assert.Equal(t, "eth0", m.Management().Name)
}

func TestResolvePriority(t *testing.T) {
	m := newTopology(t, nil)

	tests := []struct {
		physical string
		want     string
	}{
		{"Ethernet4", "Vlan1000"},
		{"Ethernet8", "Vlan1000"},
		{"Ethernet112", "PortChannel01"},
		{"Ethernet116", "PortChannel02"},
		{"eth0", "eth0"},
		// bridge and bond devices themselves are charged through their members
		{"Vlan1000", ""},
		{"PortChannel01", ""},
		{"Ethernet200", ""},
		{"lo", ""},
	}
	for _, tt := range tests {
		d, ok := m.Resolve(tt.physical)
		if tt.want == "" {
			assert.False(t, ok, tt.physical)
			continue
		}
		require.True(t, ok, tt.physical)
		assert.Equal(t, tt.want, d.Name, tt.physical)
	}
}

func TestResolveVLANWinsOverPortChannel(t *testing.T) {
	tbl := portmap.NewTable()
	tbl.AddVLANMember("Vlan1000", "Ethernet4")
	tbl.AddPortChannelMember("PortChannel01", "Ethernet4")

	m := NewManager(testLinks(), tbl, nil)
	_, err := m.AddDownlink("Vlan1000")
	require.NoError(t, err)
	_, err = m.AddUplink("PortChannel01")
	require.NoError(t, err)

	d, ok := m.Resolve("Ethernet4")
	require.True(t, ok)
	assert.Equal(t, "Vlan1000", d.Name)
}

func TestDualToR(t *testing.T) {
	mux := fakeMux{standby: map[string]bool{"Ethernet8": true}}
	m := newTopology(t, mux)

	_, ok := m.Resolve("Ethernet8")
	assert.True(t, ok, "standby filtering is off until dual-ToR is enabled")

	require.NoError(t, m.EnableDualToR("Loopback0"))
	assert.True(t, m.DualToR())
	assert.Equal(t, netaddr.MustParseIP("10.1.0.32"), m.Gateway())
	assert.Equal(t, m.Gateway(), m.Downlink().Gateway)
	assert.Equal(t, m.Gateway(), m.Aggregate().Gateway)

	_, ok = m.Resolve("Ethernet8")
	assert.False(t, ok, "standby port")
	d, ok := m.Resolve("Ethernet4")
	require.True(t, ok)
	assert.Equal(t, "Vlan1000", d.Name)

	// uplinks are never mux-filtered
	_, ok = m.Resolve("Ethernet112")
	assert.True(t, ok)
}

func TestDualToRMuxErrorTreatedActive(t *testing.T) {
	m := newTopology(t, fakeMux{err: errors.New("redis down")})
	require.NoError(t, m.EnableDualToR("Loopback0"))

	_, ok := m.Resolve("Ethernet4")
	assert.True(t, ok)
}

func TestEnableDualToRFailure(t *testing.T) {
	m := newTopology(t, nil)

	assert.Error(t, m.EnableDualToR("Loopback9"))
	assert.Error(t, m.EnableDualToR("eth0"), "no IPv4 address")
	assert.False(t, m.DualToR())
	assert.Equal(t, netaddr.MustParseIP("192.168.0.1"), m.Gateway())
}

func TestAdvanceSnapshots(t *testing.T) {
	m := newTopology(t, nil)
	agg := m.Aggregate()
	down := m.Downlink()

	down.Counters.Inc(RX, dhcp.V4, uint8(dhcp.DHCPDiscover))
	agg.Counters.Inc(RX, dhcp.V4, uint8(dhcp.DHCPDiscover))
	require.True(t, agg.Counters.Increased(RX, dhcp.V4, uint8(dhcp.DHCPDiscover)))

	m.AdvanceSnapshots()
	for _, d := range m.Devices() {
		assert.False(t, d.Counters.Increased(RX, dhcp.V4, uint8(dhcp.DHCPDiscover)), d.Name)
	}
	assert.Equal(t, uint64(1), agg.Counters.Get(Snapshot, RX, dhcp.V4, uint8(dhcp.DHCPDiscover)))

	// advancing twice without new traffic changes nothing
	before := agg.Counters.Export(Snapshot)
	m.AdvanceSnapshots()
	assert.Equal(t, before, agg.Counters.Export(Snapshot))
	assert.Equal(t, agg.Counters.Export(Current), agg.Counters.Export(Snapshot))
}

func TestDualToRSonicMuxUnavailable(t *testing.T) {
	srv := miniredis.RunT(t)
	sonic := portmap.NewSonicClient(srv.Addr())
	t.Cleanup(func() { sonic.Close() })

	m := newTopology(t, sonic)
	require.NoError(t, m.EnableDualToR("Loopback0"))

	srv.Close()
	d, ok := m.Resolve("Ethernet8")
	require.True(t, ok, "unreadable mux state counts the port as active")
	assert.Equal(t, "Vlan1000", d.Name)
}
