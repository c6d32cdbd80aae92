package portmap

// StaticConfig describes port membership for hosts without a SONiC database.
type StaticConfig struct {
	VLANMembers        map[string][]string `yaml:"vlan_members"`
	PortChannelMembers map[string][]string `yaml:"portchannel_members"`
	// MgmtPorts maps a management device to its physical ports.
	MgmtPorts    map[string][]string `yaml:"mgmt_ports"`
	StandbyPorts []string            `yaml:"standby_ports"`
}

func NewStatic(cfg StaticConfig) *Table {
	t := NewTable()
	for vlan, ports := range cfg.VLANMembers {
		for _, p := range ports {
			t.AddVLANMember(vlan, p)
		}
	}
	for pc, ports := range cfg.PortChannelMembers {
		for _, p := range ports {
			t.AddPortChannelMember(pc, p)
		}
	}
	for mgmt, ports := range cfg.MgmtPorts {
		for _, p := range ports {
			t.AddMgmtPort(mgmt, p)
		}
	}
	return t
}

// StaticMux reports a fixed set of ports as standby.
type StaticMux map[string]bool

func NewStaticMux(standby []string) StaticMux {
	m := make(StaticMux, len(standby))
	for _, p := range standby {
		m[p] = true
	}
	return m
}

func (m StaticMux) IsStandby(port string) (bool, error) {
	return m[port], nil
}
