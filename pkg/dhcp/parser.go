package dhcp

import (
	"fmt"

	"inet.af/netaddr"
)

const (
	// BOOTP fixed header (236) plus the magic cookie.
	V4OptionsOffset = 240
	V4MagicCookie   = 0x63825363

	v4GIAddrOffset = 24
	v4CookieOffset = 236

	OptPad         = 0
	OptMessageType = 53
	OptEnd         = 255

	// msg-type, hop-count, link-address, peer-address
	V6RelayHeaderLen = 34
	V6OptRelayMsg    = 9

	maxRelayDepth = 32
)

// V4Summary carries the handful of BOOTP fields classification needs.
type V4Summary struct {
	Op          uint8
	GIAddr      netaddr.IP
	MessageType MessageType
}

// ParseV4 reads the fixed BOOTP header and scans the options for the
// message type. payload starts at the first byte after the UDP header.
func ParseV4(payload []byte) (V4Summary, error) {
	var s V4Summary
	r := NewReader(payload)

	op, err := r.Uint8()
	if err != nil {
		return s, err
	}
	s.Op = op

	if err := r.Seek(v4GIAddrOffset); err != nil {
		return s, err
	}
	giaddr, err := r.Bytes(4)
	if err != nil {
		return s, err
	}
	s.GIAddr, _ = netaddr.FromStdIP(giaddr)

	if err := r.Seek(v4CookieOffset); err != nil {
		return s, err
	}
	cookie, err := r.Uint32()
	if err != nil {
		return s, err
	}
	if cookie != V4MagicCookie {
		return s, fmt.Errorf("%w: 0x%08x", ErrBadCookie, cookie)
	}

	mt, err := ScanMessageType(payload[V4OptionsOffset:])
	if err != nil {
		return s, err
	}
	s.MessageType = mt
	return s, nil
}

// ScanMessageType walks a DHCPv4 options region (tag, length, value)
// skipping pad bytes until option 53 or the end marker.
func ScanMessageType(options []byte) (MessageType, error) {
	r := NewReader(options)
	for r.Len() > 0 {
		tag, err := r.Uint8()
		if err != nil {
			return 0, err
		}
		switch tag {
		case OptPad:
			continue
		case OptEnd:
			return 0, ErrNoMessageType
		}

		length, err := r.Uint8()
		if err != nil {
			return 0, err
		}
		value, err := r.Bytes(int(length))
		if err != nil {
			return 0, err
		}
		if tag == OptMessageType {
			if len(value) < 1 {
				return 0, fmt.Errorf("%w: option 53 has zero length", ErrTruncatedFrame)
			}
			return MessageType(value[0]), nil
		}
	}
	return 0, ErrNoMessageType
}

// ParseV6MessageType returns the type of the innermost message, unwrapping
// Relay-Forward/Relay-Reply envelopes through their Relay Message option.
func ParseV6MessageType(payload []byte) (V6MessageType, error) {
	msg := payload
	for depth := 0; depth <= maxRelayDepth; depth++ {
		r := NewReader(msg)
		b, err := r.Uint8()
		if err != nil {
			return 0, err
		}
		mt := V6MessageType(b)
		if !mt.IsRelay() {
			return mt, nil
		}

		if err := r.Seek(V6RelayHeaderLen); err != nil {
			return 0, err
		}
		inner, err := findRelayMessage(r)
		if err != nil {
			return 0, err
		}
		msg = inner
	}
	return 0, fmt.Errorf("relay nesting exceeds %d levels", maxRelayDepth)
}

func findRelayMessage(r *Reader) ([]byte, error) {
	for r.Len() > 0 {
		code, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		length, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		value, err := r.Bytes(int(length))
		if err != nil {
			return nil, err
		}
		if code == V6OptRelayMsg {
			return value, nil
		}
	}
	return nil, fmt.Errorf("%w: relay message option missing", ErrNoMessageType)
}
