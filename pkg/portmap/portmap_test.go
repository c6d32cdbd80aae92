package portmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyKey(t *testing.T) {
	tbl := NewTable()

	tests := []struct {
		key  string
		want bool
	}{
		{"VLAN_MEMBER|Vlan1000|Ethernet4", true},
		{"VLAN_MEMBER|Vlan1000|Ethernet8", true},
		{"PORTCHANNEL_MEMBER|PortChannel01|Ethernet112", true},
		{"MGMT_PORT|eth0", true},
		{"VLAN_MEMBER|Vlan1000", false},
		{"MGMT_PORT|eth0|extra", false},
		{"PORT|Ethernet4", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, applyKey(tbl, tt.key), tt.key)
	}

	vlan, ok := tbl.VLANOf("Ethernet4")
	require.True(t, ok)
	assert.Equal(t, "Vlan1000", vlan)

	pc, ok := tbl.PortChannelOf("Ethernet112")
	require.True(t, ok)
	assert.Equal(t, "PortChannel01", pc)

	mgmt, ok := tbl.MgmtOf("eth0")
	require.True(t, ok)
	assert.Equal(t, "eth0", mgmt)

	assert.True(t, tbl.HasMembers("Vlan1000"))
	assert.True(t, tbl.HasMembers("PortChannel01"))
	assert.False(t, tbl.HasMembers("eth0"))
	assert.Equal(t, []string{"Ethernet112", "Ethernet4", "Ethernet8", "eth0"}, tbl.Ports())
}

func TestStaticMapper(t *testing.T) {
	m := NewStatic(StaticConfig{
		VLANMembers:        map[string][]string{"Vlan1000": {"Ethernet0", "Ethernet0"}},
		PortChannelMembers: map[string][]string{"PortChannel02": {"Ethernet120"}},
		MgmtPorts:          map[string][]string{"eth0": {"eth0"}},
	})

	_, ok := m.VLANOf("Ethernet120")
	assert.False(t, ok)
	pc, ok := m.PortChannelOf("Ethernet120")
	assert.True(t, ok)
	assert.Equal(t, "PortChannel02", pc)
	assert.True(t, m.HasMembers("Vlan1000"))
	assert.False(t, m.HasMembers("Vlan2000"))
	assert.Equal(t, 1, m.members["Vlan1000"], "duplicate member must count once")
}

func TestStaticMux(t *testing.T) {
	mux := NewStaticMux([]string{"Ethernet4"})

	standby, err := mux.IsStandby("Ethernet4")
	require.NoError(t, err)
	assert.True(t, standby)

	standby, err = mux.IsStandby("Ethernet8")
	require.NoError(t, err)
	assert.False(t, standby)
}
