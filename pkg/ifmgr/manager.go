package ifmgr

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"inet.af/netaddr"

	"github.com/veesix-networks/dhcpmon/pkg/logger"
)

// Manager caches the kernel interface table and answers name/index
// lookups for the capture path. Lookups that miss the cache fall through
// to netlink once.
type Manager struct {
	mu      sync.RWMutex
	byIndex map[int]*Interface
	byName  map[string]*Interface
	handle  *netlink.Handle
	logger  *slog.Logger
}

// New opens a netlink handle in the named network namespace, or in the
// current one when nsName is empty.
func New(nsName string) (*Manager, error) {
	var (
		h   *netlink.Handle
		err error
	)
	if nsName == "" {
		h, err = netlink.NewHandle()
	} else {
		var ns netns.NsHandle
		ns, err = netns.GetFromName(nsName)
		if err != nil {
			return nil, fmt.Errorf("open netns %q: %w", nsName, err)
		}
		defer ns.Close()
		h, err = netlink.NewHandleAt(ns)
	}
	if err != nil {
		return nil, fmt.Errorf("netlink handle: %w", err)
	}

	return &Manager{
		byIndex: make(map[int]*Interface),
		byName:  make(map[string]*Interface),
		handle:  h,
		logger:  logger.Get(logger.IfMgr),
	}, nil
}

// NewStatic builds a manager over a fixed interface set without netlink.
func NewStatic(ifaces ...*Interface) *Manager {
	m := &Manager{
		byIndex: make(map[int]*Interface),
		byName:  make(map[string]*Interface),
		logger:  logger.Get(logger.IfMgr),
	}
	for _, iface := range ifaces {
		m.Add(iface)
	}
	return m
}

func (m *Manager) Close() {
	if m.handle != nil {
		m.handle.Close()
	}
}

func (m *Manager) Add(iface *Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byIndex[iface.Index] = iface
	if iface.Name != "" {
		m.byName[iface.Name] = iface
	}
}

// Refresh reloads every link from the kernel.
func (m *Manager) Refresh() error {
	if m.handle == nil {
		return nil
	}

	links, err := m.handle.LinkList()
	if err != nil {
		return fmt.Errorf("list links: %w", err)
	}

	byIndex := make(map[int]*Interface, len(links))
	byName := make(map[string]*Interface, len(links))
	for _, link := range links {
		iface, err := m.fromLink(link)
		if err != nil {
			m.logger.Warn("Skipping link", "name", link.Attrs().Name, "error", err)
			continue
		}
		byIndex[iface.Index] = iface
		byName[iface.Name] = iface
	}

	m.mu.Lock()
	m.byIndex = byIndex
	m.byName = byName
	m.mu.Unlock()

	m.logger.Debug("Interface table refreshed", "count", len(byIndex))
	return nil
}

func (m *Manager) fromLink(link netlink.Link) (*Interface, error) {
	attrs := link.Attrs()
	iface := &Interface{
		Index:  attrs.Index,
		Name:   attrs.Name,
		MAC:    attrs.HardwareAddr,
		MTU:    attrs.MTU,
		OperUp: attrs.OperState == netlink.OperUp,
	}

	addrs, err := m.handle.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	for _, addr := range addrs {
		ip, ok := netaddr.FromStdIP(addr.IP)
		if !ok {
			continue
		}
		if ip.Is4() {
			iface.IPv4Addresses = append(iface.IPv4Addresses, ip)
		} else {
			iface.IPv6Addresses = append(iface.IPv6Addresses, ip)
		}
	}
	return iface, nil
}

// Lookup returns the named interface, querying netlink on a cache miss.
func (m *Manager) Lookup(name string) (*Interface, error) {
	m.mu.RLock()
	iface, ok := m.byName[name]
	m.mu.RUnlock()
	if ok {
		return iface, nil
	}

	if m.handle == nil {
		return nil, fmt.Errorf("interface %q not found", name)
	}

	link, err := m.handle.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("interface %q: %w", name, err)
	}
	iface, err = m.fromLink(link)
	if err != nil {
		return nil, fmt.Errorf("interface %q: %w", name, err)
	}
	m.Add(iface)
	return iface, nil
}

// NameByIndex resolves an ifindex reported by the capture socket.
func (m *Manager) NameByIndex(index int) (string, bool) {
	m.mu.RLock()
	iface, ok := m.byIndex[index]
	m.mu.RUnlock()
	if ok {
		return iface.Name, true
	}

	if m.handle == nil {
		return "", false
	}

	link, err := m.handle.LinkByIndex(index)
	if err != nil {
		return "", false
	}
	iface, err = m.fromLink(link)
	if err != nil {
		return "", false
	}
	m.Add(iface)
	return iface.Name, true
}
