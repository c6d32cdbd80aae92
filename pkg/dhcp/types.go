package dhcp

import "fmt"

type Version uint8

const (
	V4 Version = 4
	V6 Version = 6
)

func (v Version) String() string {
	switch v {
	case V4:
		return "DHCPv4"
	case V6:
		return "DHCPv6"
	default:
		return fmt.Sprintf("DHCPv%d", uint8(v))
	}
}

// Versions lists the protocol versions in counter-table order.
var Versions = []Version{V4, V6}

// MessageType is a DHCPv4 option 53 value.
type MessageType uint8

const (
	DHCPDiscover MessageType = 1
	DHCPOffer    MessageType = 2
	DHCPRequest  MessageType = 3
	DHCPDecline  MessageType = 4
	DHCPAck      MessageType = 5
	DHCPNak      MessageType = 6
	DHCPRelease  MessageType = 7
	DHCPInform   MessageType = 8
)

func (mt MessageType) String() string {
	switch mt {
	case DHCPDiscover:
		return "Discover"
	case DHCPOffer:
		return "Offer"
	case DHCPRequest:
		return "Request"
	case DHCPDecline:
		return "Decline"
	case DHCPAck:
		return "Ack"
	case DHCPNak:
		return "Nak"
	case DHCPRelease:
		return "Release"
	case DHCPInform:
		return "Inform"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(mt))
	}
}

func (mt MessageType) Valid() bool {
	return mt >= DHCPDiscover && mt <= DHCPInform
}

// ClientOriginated reports whether clients send this type toward servers.
func (mt MessageType) ClientOriginated() bool {
	switch mt {
	case DHCPDiscover, DHCPRequest, DHCPDecline, DHCPRelease, DHCPInform:
		return true
	}
	return false
}

func (mt MessageType) ServerOriginated() bool {
	switch mt {
	case DHCPOffer, DHCPAck, DHCPNak:
		return true
	}
	return false
}

// V6MessageType is the leading msg-type byte of a DHCPv6 message.
type V6MessageType uint8

const (
	DHCPv6Solicit            V6MessageType = 1
	DHCPv6Advertise          V6MessageType = 2
	DHCPv6Request            V6MessageType = 3
	DHCPv6Confirm            V6MessageType = 4
	DHCPv6Renew              V6MessageType = 5
	DHCPv6Rebind             V6MessageType = 6
	DHCPv6Reply              V6MessageType = 7
	DHCPv6Release            V6MessageType = 8
	DHCPv6Decline            V6MessageType = 9
	DHCPv6Reconfigure        V6MessageType = 10
	DHCPv6InformationRequest V6MessageType = 11
	DHCPv6RelayForward       V6MessageType = 12
	DHCPv6RelayReply         V6MessageType = 13
)

func (mt V6MessageType) String() string {
	switch mt {
	case DHCPv6Solicit:
		return "Solicit"
	case DHCPv6Advertise:
		return "Advertise"
	case DHCPv6Request:
		return "Request"
	case DHCPv6Confirm:
		return "Confirm"
	case DHCPv6Renew:
		return "Renew"
	case DHCPv6Rebind:
		return "Rebind"
	case DHCPv6Reply:
		return "Reply"
	case DHCPv6Release:
		return "Release"
	case DHCPv6Decline:
		return "Decline"
	case DHCPv6Reconfigure:
		return "Reconfigure"
	case DHCPv6InformationRequest:
		return "Information-Request"
	case DHCPv6RelayForward:
		return "Relay-Forward"
	case DHCPv6RelayReply:
		return "Relay-Reply"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(mt))
	}
}

// Valid excludes the relay envelopes, which are never counted.
func (mt V6MessageType) Valid() bool {
	return mt >= DHCPv6Solicit && mt <= DHCPv6InformationRequest
}

func (mt V6MessageType) IsRelay() bool {
	return mt == DHCPv6RelayForward || mt == DHCPv6RelayReply
}

func (mt V6MessageType) ClientOriginated() bool {
	switch mt {
	case DHCPv6Solicit, DHCPv6Request, DHCPv6Confirm, DHCPv6Renew, DHCPv6Rebind,
		DHCPv6Release, DHCPv6Decline, DHCPv6InformationRequest:
		return true
	}
	return false
}

func (mt V6MessageType) ServerOriginated() bool {
	switch mt {
	case DHCPv6Advertise, DHCPv6Reply, DHCPv6Reconfigure:
		return true
	}
	return false
}

// MaxTypeCode is one past the largest countable code of either version.
const MaxTypeCode = 12

// TypeName renders a raw message-type code for the given version.
func TypeName(v Version, code uint8) string {
	if v == V6 {
		return V6MessageType(code).String()
	}
	return MessageType(code).String()
}

// CountableTypes returns every code that may appear in a counter table.
func CountableTypes(v Version) []uint8 {
	if v == V6 {
		codes := make([]uint8, 0, 11)
		for c := DHCPv6Solicit; c <= DHCPv6InformationRequest; c++ {
			codes = append(codes, uint8(c))
		}
		return codes
	}
	codes := make([]uint8, 0, 8)
	for c := DHCPDiscover; c <= DHCPInform; c++ {
		codes = append(codes, uint8(c))
	}
	return codes
}

// MonitoredTypes returns the client/server handshake codes the health
// checks look at.
func MonitoredTypes(v Version) []uint8 {
	if v == V6 {
		return []uint8{
			uint8(DHCPv6Solicit),
			uint8(DHCPv6Advertise),
			uint8(DHCPv6Request),
			uint8(DHCPv6Reply),
		}
	}
	return []uint8{
		uint8(DHCPDiscover),
		uint8(DHCPOffer),
		uint8(DHCPRequest),
		uint8(DHCPAck),
	}
}

// UDP ports used by the capture filters.
const (
	PortV4Server uint16 = 67
	PortV4Client uint16 = 68
	PortV6Client uint16 = 546
	PortV6Server uint16 = 547
)
