// Package classify decodes captured frames into DHCP messages and charges
// them to device counters according to the relay attribution rules.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"inet.af/netaddr"

	"github.com/veesix-networks/dhcpmon/internal/device"
	"github.com/veesix-networks/dhcpmon/pkg/dhcp"
	"github.com/veesix-networks/dhcpmon/pkg/logger"
)

var (
	ErrNotDHCP         = errors.New("not a DHCP datagram")
	ErrVersionDisabled = errors.New("protocol version not monitored")
	ErrUnknownType     = errors.New("unknown message type")
)

var broadcastV4 = netaddr.IPv4(255, 255, 255, 255)

// Result describes what a classified frame was and whether it moved any
// counter.
type Result struct {
	Version dhcp.Version
	Code    uint8
	Counted bool
	// Aggregated is set when the aggregate was charged alongside the device.
	Aggregated bool
}

// Classifier is not safe for concurrent use; it reuses its decode layers
// across frames.
type Classifier struct {
	eth     layers.Ethernet
	dot1q   layers.Dot1Q
	ip4     layers.IPv4
	ip6     layers.IPv6
	udp     layers.UDP
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType

	aggregate *device.Device
	v4        bool
	v6        bool

	logger *slog.Logger
}

func New(aggregate *device.Device, v4, v6 bool) *Classifier {
	c := &Classifier{
		aggregate: aggregate,
		v4:        v4,
		v6:        v6,
		decoded:   make([]gopacket.LayerType, 0, 5),
		logger:    logger.Get(logger.Classify),
	}
	c.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet,
		&c.eth, &c.dot1q, &c.ip4, &c.ip6, &c.udp)
	c.parser.IgnoreUnsupported = true
	return c
}

// Classify decodes frame as observed on d in direction dir and increments
// the matching counters. Errors describe frames that were dropped.
func (c *Classifier) Classify(d *device.Device, dir device.Direction, frame []byte) (Result, error) {
	if err := c.parser.DecodeLayers(frame, &c.decoded); err != nil {
		return Result{}, fmt.Errorf("%w: %v", dhcp.ErrTruncatedFrame, err)
	}

	var network, transport bool
	var version dhcp.Version
	for _, lt := range c.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			network, version = true, dhcp.V4
		case layers.LayerTypeIPv6:
			network, version = true, dhcp.V6
		case layers.LayerTypeUDP:
			transport = true
		}
	}
	if !network || !transport {
		return Result{}, ErrNotDHCP
	}

	switch version {
	case dhcp.V4:
		if !isV4Port(c.udp.SrcPort) && !isV4Port(c.udp.DstPort) {
			return Result{}, ErrNotDHCP
		}
		if !c.v4 {
			return Result{Version: dhcp.V4}, ErrVersionDisabled
		}
		return c.classifyV4(d, dir, c.udp.Payload)
	default:
		if !isV6Port(c.udp.SrcPort) && !isV6Port(c.udp.DstPort) {
			return Result{}, ErrNotDHCP
		}
		if !c.v6 {
			return Result{Version: dhcp.V6}, ErrVersionDisabled
		}
		return c.classifyV6(d, dir, c.udp.Payload)
	}
}

func (c *Classifier) classifyV4(d *device.Device, dir device.Direction, payload []byte) (Result, error) {
	res := Result{Version: dhcp.V4}

	sum, err := dhcp.ParseV4(payload)
	if err != nil {
		return res, err
	}
	mt := sum.MessageType
	res.Code = uint8(mt)
	if !mt.Valid() {
		c.logger.Warn("Unknown DHCPv4 message type", "interface", d.Name, "type", uint8(mt))
		return res, ErrUnknownType
	}

	dst, _ := netaddr.FromStdIP(c.ip4.DstIP)

	var attribute bool
	switch d.Role {
	case device.RoleManagement:
		attribute = true
	case device.RoleUplink:
		attribute = (mt.ClientOriginated() && dir == device.TX && sum.GIAddr == d.Gateway) ||
			(mt.ServerOriginated() && dir == device.RX && dst == d.Gateway)
	case device.RoleDownlink:
		attribute = (mt.ClientOriginated() && dir == device.RX && dst == broadcastV4) ||
			(mt.ServerOriginated() && dir == device.TX)
	}

	if attribute {
		c.charge(d, dir, &res)
	}
	return res, nil
}

func (c *Classifier) classifyV6(d *device.Device, dir device.Direction, payload []byte) (Result, error) {
	res := Result{Version: dhcp.V6}

	mt, err := dhcp.ParseV6MessageType(payload)
	if err != nil {
		return res, err
	}
	res.Code = uint8(mt)
	if !mt.Valid() {
		c.logger.Warn("Unknown DHCPv6 message type", "interface", d.Name, "type", uint8(mt))
		return res, ErrUnknownType
	}

	var attribute bool
	switch d.Role {
	case device.RoleManagement:
		attribute = true
	case device.RoleUplink:
		attribute = (mt.ClientOriginated() && dir == device.TX) ||
			(mt.ServerOriginated() && dir == device.RX)
	case device.RoleDownlink:
		attribute = (mt.ClientOriginated() && dir == device.RX) ||
			(mt.ServerOriginated() && dir == device.TX)
	}

	if attribute {
		c.charge(d, dir, &res)
	}
	return res, nil
}

// charge increments the device cell and, for relay-path devices, the same
// cell of the aggregate.
func (c *Classifier) charge(d *device.Device, dir device.Direction, res *Result) {
	res.Counted = d.Counters.Inc(dir, res.Version, res.Code)
	if res.Counted && d.RelayPath() && c.aggregate != nil {
		res.Aggregated = c.aggregate.Counters.Inc(dir, res.Version, res.Code)
	}
	if res.Counted && c.logger.Enabled(context.Background(), slog.LevelDebug) {
		logger.WithDevice(c.logger, logger.DeviceAttrs{
			Interface: d.Name,
			Role:      d.Role.String(),
			Version:   res.Version.String(),
			Direction: dir.String(),
		}).Debug("Counted DHCP message", "type", dhcp.TypeName(res.Version, res.Code))
	}
}

func isV4Port(p layers.UDPPort) bool {
	return uint16(p) == dhcp.PortV4Server || uint16(p) == dhcp.PortV4Client
}

func isV6Port(p layers.UDPPort) bool {
	return uint16(p) == dhcp.PortV6Server || uint16(p) == dhcp.PortV6Client
}
