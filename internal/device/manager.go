package device

import (
	"errors"
	"fmt"
	"log/slog"

	"inet.af/netaddr"

	"github.com/veesix-networks/dhcpmon/pkg/ifmgr"
	"github.com/veesix-networks/dhcpmon/pkg/logger"
	"github.com/veesix-networks/dhcpmon/pkg/portmap"
)

var ErrTopology = errors.New("invalid interface topology")

// LinkResolver looks up kernel interfaces by name.
type LinkResolver interface {
	Lookup(name string) (*ifmgr.Interface, error)
}

// Manager owns every Device and resolves captured interface names to the
// device that should be charged.
type Manager struct {
	links  LinkResolver
	mapper portmap.Mapper
	mux    portmap.MuxStateReader

	byName    map[string]*Device
	downlink  *Device
	uplinks   []*Device
	mgmt      *Device
	aggregate *Device

	gateway netaddr.IP
	dualToR bool

	logger *slog.Logger
}

// NewManager builds an empty manager. mapper and mux may be nil.
func NewManager(links LinkResolver, mapper portmap.Mapper, mux portmap.MuxStateReader) *Manager {
	if mapper == nil {
		mapper = portmap.NewTable()
	}
	return &Manager{
		links:  links,
		mapper: mapper,
		mux:    mux,
		byName: make(map[string]*Device),
		logger: logger.Get(logger.DevMan),
	}
}

func (m *Manager) newDevice(name string, role Role) (*Device, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty %s interface name", ErrTopology, role)
	}
	if existing, ok := m.byName[name]; ok {
		return nil, fmt.Errorf("%w: %s already registered as %s", ErrTopology, name, existing.Role)
	}

	link, err := m.links.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("resolve %s interface: %w", role, err)
	}

	d := &Device{
		Name:    name,
		Role:    role,
		Index:   link.Index,
		MAC:     link.MAC,
		IPv4:    link.PrimaryIPv4(),
		IPv6:    link.PrimaryIPv6(),
		Gateway: m.gateway,
	}
	m.byName[name] = d
	return d, nil
}

// AddDownlink registers the single south-facing interface. Its IPv4
// address becomes the gateway reference and it names the aggregate.
func (m *Manager) AddDownlink(name string) (*Device, error) {
	if m.downlink != nil {
		return nil, fmt.Errorf("%w: downlink already set to %s", ErrTopology, m.downlink.Name)
	}
	d, err := m.newDevice(name, RoleDownlink)
	if err != nil {
		return nil, err
	}
	m.downlink = d
	m.aggregate = &Device{
		Name: AggregatePrefix + name,
		Role: RoleAggregate,
		IPv4: d.IPv4,
		IPv6: d.IPv6,
	}

	if !m.dualToR {
		if d.IPv4.IsZero() {
			m.logger.Warn("Downlink has no IPv4 address, v4 relay attribution will not match", "interface", name)
		}
		m.setGateway(d.IPv4)
	}

	m.logger.Info("Registered downlink", "interface", name, "ifindex", d.Index, "ipv4", d.IPv4, "ipv6", d.IPv6)
	return d, nil
}

func (m *Manager) AddUplink(name string) (*Device, error) {
	d, err := m.newDevice(name, RoleUplink)
	if err != nil {
		return nil, err
	}
	m.uplinks = append(m.uplinks, d)
	m.logger.Info("Registered uplink", "interface", name, "ifindex", d.Index)
	return d, nil
}

func (m *Manager) AddManagement(name string) (*Device, error) {
	if m.mgmt != nil {
		return nil, fmt.Errorf("%w: management already set to %s", ErrTopology, m.mgmt.Name)
	}
	d, err := m.newDevice(name, RoleManagement)
	if err != nil {
		return nil, err
	}
	m.mgmt = d
	m.logger.Info("Registered management interface", "interface", name, "ifindex", d.Index)
	return d, nil
}

// EnableDualToR switches the gateway reference to the loopback address
// shared by both ToRs and turns on mux standby filtering.
func (m *Manager) EnableDualToR(loopback string) error {
	link, err := m.links.Lookup(loopback)
	if err != nil {
		return fmt.Errorf("resolve loopback: %w", err)
	}
	ip := link.PrimaryIPv4()
	if ip.IsZero() {
		return fmt.Errorf("loopback %s has no IPv4 address", loopback)
	}

	m.dualToR = true
	m.setGateway(ip)
	m.logger.Info("Dual-ToR mode enabled", "loopback", loopback, "gateway", ip)
	return nil
}

func (m *Manager) DualToR() bool {
	return m.dualToR
}

func (m *Manager) Gateway() netaddr.IP {
	return m.gateway
}

func (m *Manager) setGateway(ip netaddr.IP) {
	m.gateway = ip
	for _, d := range m.byName {
		d.Gateway = ip
	}
	if m.aggregate != nil {
		m.aggregate.Gateway = ip
	}
}

// Validate checks the topology is complete enough to start capture.
func (m *Manager) Validate() error {
	if m.downlink == nil {
		return fmt.Errorf("%w: no downlink configured", ErrTopology)
	}
	if len(m.uplinks) == 0 {
		return fmt.Errorf("%w: at least one uplink is required", ErrTopology)
	}
	return nil
}

// Resolve maps a captured interface name to its device. VLAN membership
// wins over port-channel membership, which wins over management ports. A
// name matches a device directly only when it has no member ports, so a
// frame seen on both a bridge and its member is charged once. Standby
// downlink ports in dual-ToR mode resolve to nothing.
func (m *Manager) Resolve(physical string) (*Device, bool) {
	name := physical
	if vlan, ok := m.mapper.VLANOf(physical); ok {
		name = vlan
	} else if pc, ok := m.mapper.PortChannelOf(physical); ok {
		name = pc
	} else if mgmt, ok := m.mapper.MgmtOf(physical); ok {
		name = mgmt
	} else if m.mapper.HasMembers(physical) {
		return nil, false
	}

	d, ok := m.byName[name]
	if !ok {
		return nil, false
	}

	if d == m.downlink && m.dualToR && m.mux != nil {
		standby, err := m.mux.IsStandby(physical)
		if err != nil {
			m.logger.Debug("Mux state lookup failed, assuming active", "interface", physical, "error", err)
			return d, true
		}
		if standby {
			return nil, false
		}
	}
	return d, true
}

func (m *Manager) Get(name string) (*Device, bool) {
	d, ok := m.byName[name]
	return d, ok
}

func (m *Manager) Downlink() *Device {
	return m.downlink
}

func (m *Manager) Uplinks() []*Device {
	return m.uplinks
}

func (m *Manager) Aggregate() *Device {
	return m.aggregate
}

// Management returns the management device, or nil when none is configured.
func (m *Manager) Management() *Device {
	return m.mgmt
}

// Devices returns every device in a stable order: downlink, uplinks,
// management, aggregate.
func (m *Manager) Devices() []*Device {
	out := make([]*Device, 0, len(m.byName)+1)
	if m.downlink != nil {
		out = append(out, m.downlink)
	}
	out = append(out, m.uplinks...)
	if m.mgmt != nil {
		out = append(out, m.mgmt)
	}
	if m.aggregate != nil {
		out = append(out, m.aggregate)
	}
	return out
}

// AdvanceSnapshots copies Current over Snapshot on every device.
func (m *Manager) AdvanceSnapshots() {
	for _, d := range m.Devices() {
		d.Counters.Advance()
	}
}
