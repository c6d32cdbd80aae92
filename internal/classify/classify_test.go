package classify

import (
	"errors"
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"inet.af/netaddr"

	"github.com/veesix-networks/dhcpmon/internal/device"
	"github.com/veesix-networks/dhcpmon/pkg/dhcp"
)

var (
	gateway   = netaddr.MustParseIP("192.168.0.1")
	clientMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	relayMAC  = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
)

type v4Frame struct {
	src, dst string
	giaddr   string
	msgType  layers.DHCPMsgType
	vlan     uint16
}

func buildV4(t *testing.T, f v4Frame) []byte {
	t.Helper()

	eth := &layers.Ethernet{SrcMAC: clientMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(f.src),
		DstIP:    net.ParseIP(f.dst),
	}
	udp := &layers.UDP{SrcPort: 68, DstPort: 67}
	if f.msgType == layers.DHCPMsgTypeOffer || f.msgType == layers.DHCPMsgTypeAck || f.msgType == layers.DHCPMsgTypeNak {
		udp.SrcPort, udp.DstPort = 67, 68
	}
	giaddr := f.giaddr
	if giaddr == "" {
		giaddr = "0.0.0.0"
	}
	d := &layers.DHCPv4{
		Operation:    layers.DHCPOpRequest,
		HardwareType: layers.LinkTypeEthernet,
		Xid:          0x1234,
		ClientIP:     net.IPv4zero,
		YourClientIP: net.IPv4zero,
		NextServerIP: net.IPv4zero,
		RelayAgentIP: net.ParseIP(giaddr),
		ClientHWAddr: clientMAC,
		Options: layers.DHCPOptions{
			layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(f.msgType)}),
		},
	}

	var stack []gopacket.SerializableLayer
	if f.vlan != 0 {
		eth.EthernetType = layers.EthernetTypeDot1Q
		stack = append(stack, eth, &layers.Dot1Q{VLANIdentifier: f.vlan, Type: layers.EthernetTypeIPv4})
	} else {
		stack = append(stack, eth)
	}
	stack = append(stack, ip, udp, d)

	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, stack...))
	return buf.Bytes()
}

func buildV6(t *testing.T, srcPort, dstPort layers.UDPPort, payload []byte) []byte {
	t.Helper()

	eth := &layers.Ethernet{SrcMAC: clientMAC, DstMAC: net.HardwareAddr{0x33, 0x33, 0, 1, 0, 2}, EthernetType: layers.EthernetTypeIPv6}
	ip := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolUDP,
		HopLimit:   1,
		SrcIP:      net.ParseIP("fe80::1"),
		DstIP:      net.ParseIP("ff02::1:2"),
	}
	udp := &layers.UDP{SrcPort: srcPort, DstPort: dstPort}

	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true},
		eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

type topology struct {
	downlink, uplink, mgmt, agg *device.Device
}

func newTopology() topology {
	return topology{
		downlink: &device.Device{Name: "Vlan1000", Role: device.RoleDownlink, MAC: relayMAC, IPv4: gateway, Gateway: gateway},
		uplink:   &device.Device{Name: "PortChannel01", Role: device.RoleUplink, Gateway: gateway},
		mgmt:     &device.Device{Name: "eth0", Role: device.RoleManagement, Gateway: gateway},
		agg:      &device.Device{Name: "Agg-Vlan1000", Role: device.RoleAggregate, Gateway: gateway},
	}
}

func code(mt dhcp.MessageType) uint8 { return uint8(mt) }

func TestV4RelayHandshake(t *testing.T) {
	topo := newTopology()
	c := New(topo.agg, true, false)

	// client broadcast arriving on the VLAN
	res, err := c.Classify(topo.downlink, device.RX, buildV4(t, v4Frame{
		src: "0.0.0.0", dst: "255.255.255.255", msgType: layers.DHCPMsgTypeDiscover,
	}))
	require.NoError(t, err)
	assert.True(t, res.Counted)
	assert.True(t, res.Aggregated)

	// relayed copy leaving towards the server
	res, err = c.Classify(topo.uplink, device.TX, buildV4(t, v4Frame{
		src: "192.168.0.1", dst: "10.0.0.5", giaddr: "192.168.0.1", msgType: layers.DHCPMsgTypeDiscover,
	}))
	require.NoError(t, err)
	assert.True(t, res.Counted)

	agg := &topo.agg.Counters
	assert.Equal(t, uint64(1), agg.Get(device.Current, device.RX, dhcp.V4, code(dhcp.DHCPDiscover)))
	assert.Equal(t, uint64(1), agg.Get(device.Current, device.TX, dhcp.V4, code(dhcp.DHCPDiscover)))
	assert.Equal(t, uint64(1), topo.downlink.Counters.Get(device.Current, device.RX, dhcp.V4, code(dhcp.DHCPDiscover)))
	assert.Equal(t, uint64(1), topo.uplink.Counters.Get(device.Current, device.TX, dhcp.V4, code(dhcp.DHCPDiscover)))

	// server offer relayed back
	_, err = c.Classify(topo.uplink, device.RX, buildV4(t, v4Frame{
		src: "10.0.0.5", dst: "192.168.0.1", giaddr: "192.168.0.1", msgType: layers.DHCPMsgTypeOffer,
	}))
	require.NoError(t, err)
	_, err = c.Classify(topo.downlink, device.TX, buildV4(t, v4Frame{
		src: "192.168.0.1", dst: "255.255.255.255", giaddr: "192.168.0.1", msgType: layers.DHCPMsgTypeOffer,
	}))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), agg.Get(device.Current, device.RX, dhcp.V4, code(dhcp.DHCPOffer)))
	assert.Equal(t, uint64(1), agg.Get(device.Current, device.TX, dhcp.V4, code(dhcp.DHCPOffer)))
}

func TestV4AttributionRejects(t *testing.T) {
	tests := []struct {
		name  string
		dev   func(topology) *device.Device
		dir   device.Direction
		frame v4Frame
	}{
		{
			name:  "uplink TX with foreign giaddr",
			dev:   func(tp topology) *device.Device { return tp.uplink },
			dir:   device.TX,
			frame: v4Frame{src: "10.9.9.9", dst: "10.0.0.5", giaddr: "10.9.9.9", msgType: layers.DHCPMsgTypeRequest},
		},
		{
			name:  "uplink RX client message",
			dev:   func(tp topology) *device.Device { return tp.uplink },
			dir:   device.RX,
			frame: v4Frame{src: "10.0.0.5", dst: "192.168.0.1", giaddr: "192.168.0.1", msgType: layers.DHCPMsgTypeRequest},
		},
		{
			name:  "uplink RX reply to another relay",
			dev:   func(tp topology) *device.Device { return tp.uplink },
			dir:   device.RX,
			frame: v4Frame{src: "10.0.0.5", dst: "192.168.9.1", giaddr: "192.168.9.1", msgType: layers.DHCPMsgTypeAck},
		},
		{
			name:  "downlink RX unicast request",
			dev:   func(tp topology) *device.Device { return tp.downlink },
			dir:   device.RX,
			frame: v4Frame{src: "192.168.0.50", dst: "192.168.0.1", msgType: layers.DHCPMsgTypeRequest},
		},
		{
			name:  "downlink RX server message",
			dev:   func(tp topology) *device.Device { return tp.downlink },
			dir:   device.RX,
			frame: v4Frame{src: "192.168.0.7", dst: "255.255.255.255", msgType: layers.DHCPMsgTypeOffer},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo := newTopology()
			c := New(topo.agg, true, true)
			d := tt.dev(topo)

			res, err := c.Classify(d, tt.dir, buildV4(t, tt.frame))
			require.NoError(t, err)
			assert.False(t, res.Counted)
			assert.Equal(t, d.Counters.Export(device.Snapshot), d.Counters.Export(device.Current))
			assert.Equal(t, topo.agg.Counters.Export(device.Snapshot), topo.agg.Counters.Export(device.Current))
		})
	}
}

func TestManagementNeverFeedsAggregate(t *testing.T) {
	topo := newTopology()
	c := New(topo.agg, true, false)

	res, err := c.Classify(topo.mgmt, device.TX, buildV4(t, v4Frame{
		src: "10.250.0.2", dst: "10.0.0.5", msgType: layers.DHCPMsgTypeRequest,
	}))
	require.NoError(t, err)
	assert.True(t, res.Counted)
	assert.False(t, res.Aggregated)
	assert.Equal(t, uint64(1), topo.mgmt.Counters.Get(device.Current, device.TX, dhcp.V4, code(dhcp.DHCPRequest)))
	assert.Equal(t, uint64(0), topo.agg.Counters.Get(device.Current, device.TX, dhcp.V4, code(dhcp.DHCPRequest)))
}

func TestVLANTaggedFrame(t *testing.T) {
	topo := newTopology()
	c := New(topo.agg, true, false)

	res, err := c.Classify(topo.downlink, device.RX, buildV4(t, v4Frame{
		src: "0.0.0.0", dst: "255.255.255.255", msgType: layers.DHCPMsgTypeRequest, vlan: 1000,
	}))
	require.NoError(t, err)
	assert.True(t, res.Counted)
	assert.Equal(t, code(dhcp.DHCPRequest), res.Code)
}

func TestUnknownV4TypeIgnored(t *testing.T) {
	topo := newTopology()
	c := New(topo.agg, true, false)

	_, err := c.Classify(topo.mgmt, device.RX, buildV4(t, v4Frame{
		src: "0.0.0.0", dst: "255.255.255.255", msgType: layers.DHCPMsgType(42),
	}))
	assert.True(t, errors.Is(err, ErrUnknownType))
	assert.Equal(t, topo.mgmt.Counters.Export(device.Snapshot), topo.mgmt.Counters.Export(device.Current))
}

func TestVersionDisabled(t *testing.T) {
	topo := newTopology()
	c := New(topo.agg, true, false)

	_, err := c.Classify(topo.downlink, device.RX, buildV6(t, 546, 547, []byte{byte(dhcp.DHCPv6Solicit), 0, 0, 1}))
	assert.True(t, errors.Is(err, ErrVersionDisabled))
}

func TestNotDHCP(t *testing.T) {
	topo := newTopology()
	c := New(topo.agg, true, true)

	_, err := c.Classify(topo.downlink, device.RX, buildV6(t, 53, 53, []byte{1, 2, 3}))
	assert.True(t, errors.Is(err, ErrNotDHCP))

	arp := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(arp, gopacket.SerializeOptions{FixLengths: true},
		&layers.Ethernet{SrcMAC: clientMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP},
		&layers.ARP{
			AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
			HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
			SourceHwAddress: clientMAC, SourceProtAddress: []byte{192, 168, 0, 9},
			DstHwAddress: make([]byte, 6), DstProtAddress: []byte{192, 168, 0, 1},
		}))
	_, err = c.Classify(topo.downlink, device.RX, arp.Bytes())
	assert.True(t, errors.Is(err, ErrNotDHCP))
}

func TestTruncatedV4Payload(t *testing.T) {
	topo := newTopology()
	c := New(topo.agg, true, false)

	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true},
		&layers.Ethernet{SrcMAC: clientMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeIPv4},
		&layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: net.IPv4zero, DstIP: net.IPv4bcast},
		&layers.UDP{SrcPort: 68, DstPort: 67},
		gopacket.Payload(make([]byte, 100)),
	))

	_, err := c.Classify(topo.downlink, device.RX, buf.Bytes())
	assert.True(t, errors.Is(err, dhcp.ErrTruncatedFrame))
}

func TestV6Attribution(t *testing.T) {
	topo := newTopology()
	c := New(topo.agg, false, true)

	solicit := []byte{byte(dhcp.DHCPv6Solicit), 0, 0, 1}
	relayed := make([]byte, dhcp.V6RelayHeaderLen)
	relayed[0] = byte(dhcp.DHCPv6RelayForward)
	relayed = append(relayed, 0, dhcp.V6OptRelayMsg, 0, byte(len(solicit)))
	relayed = append(relayed, solicit...)

	reply := []byte{byte(dhcp.DHCPv6Reply), 0, 0, 1}
	relayReply := make([]byte, dhcp.V6RelayHeaderLen)
	relayReply[0] = byte(dhcp.DHCPv6RelayReply)
	relayReply = append(relayReply, 0, dhcp.V6OptRelayMsg, 0, byte(len(reply)))
	relayReply = append(relayReply, reply...)

	steps := []struct {
		dev     *device.Device
		dir     device.Direction
		payload []byte
		counted bool
	}{
		{topo.downlink, device.RX, solicit, true},
		{topo.uplink, device.TX, relayed, true},
		{topo.uplink, device.RX, relayReply, true},
		{topo.downlink, device.TX, reply, true},
		{topo.downlink, device.TX, solicit, false},
		{topo.uplink, device.RX, relayed, false},
	}
	for i, s := range steps {
		res, err := c.Classify(s.dev, s.dir, buildV6(t, 546, 547, s.payload))
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, s.counted, res.Counted, "step %d", i)
	}

	agg := &topo.agg.Counters
	solicitCode := uint8(dhcp.DHCPv6Solicit)
	replyCode := uint8(dhcp.DHCPv6Reply)
	assert.Equal(t, uint64(1), agg.Get(device.Current, device.RX, dhcp.V6, solicitCode))
	assert.Equal(t, uint64(1), agg.Get(device.Current, device.TX, dhcp.V6, solicitCode))
	assert.Equal(t, uint64(1), agg.Get(device.Current, device.RX, dhcp.V6, replyCode))
	assert.Equal(t, uint64(1), agg.Get(device.Current, device.TX, dhcp.V6, replyCode))
}
