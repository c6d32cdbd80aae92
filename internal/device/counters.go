package device

import (
	"fmt"
	"strings"

	"github.com/veesix-networks/dhcpmon/pkg/dhcp"
)

type Direction uint8

const (
	RX Direction = iota
	TX
)

var Directions = []Direction{RX, TX}

func (d Direction) String() string {
	switch d {
	case RX:
		return "RX"
	case TX:
		return "TX"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

type Generation uint8

const (
	Current Generation = iota
	Snapshot
)

func (g Generation) String() string {
	if g == Snapshot {
		return "snapshot"
	}
	return "current"
}

func versionIndex(v dhcp.Version) int {
	if v == dhcp.V6 {
		return 1
	}
	return 0
}

// Counters holds two generations of per-direction, per-message-type
// counts for both protocol versions. The zero value is ready to use.
type Counters struct {
	cells [2][2][2][dhcp.MaxTypeCode]uint64
}

// Inc bumps the current generation. Codes outside the table are ignored.
func (c *Counters) Inc(dir Direction, v dhcp.Version, code uint8) bool {
	if int(code) >= dhcp.MaxTypeCode || dir > TX {
		return false
	}
	c.cells[Current][dir][versionIndex(v)][code]++
	return true
}

func (c *Counters) Get(gen Generation, dir Direction, v dhcp.Version, code uint8) uint64 {
	if int(code) >= dhcp.MaxTypeCode || dir > TX || gen > Snapshot {
		return 0
	}
	return c.cells[gen][dir][versionIndex(v)][code]
}

// Increased reports whether the current count moved past the snapshot.
func (c *Counters) Increased(dir Direction, v dhcp.Version, code uint8) bool {
	return c.Get(Current, dir, v, code) > c.Get(Snapshot, dir, v, code)
}

// Advance copies the current generation over the snapshot verbatim.
func (c *Counters) Advance() {
	c.cells[Snapshot] = c.cells[Current]
}

// Table is a flattened, immutable copy of one generation.
type Table map[dhcp.Version]map[Direction]map[uint8]uint64

func (c *Counters) Export(gen Generation) Table {
	t := make(Table, len(dhcp.Versions))
	for _, v := range dhcp.Versions {
		byDir := make(map[Direction]map[uint8]uint64, 2)
		for _, dir := range Directions {
			byType := make(map[uint8]uint64)
			for _, code := range dhcp.CountableTypes(v) {
				byType[code] = c.Get(gen, dir, v, code)
			}
			byDir[dir] = byType
		}
		t[v] = byDir
	}
	return t
}

// Format renders one generation for a single version in the compact form
// used by status dumps, e.g. "RX[Discover:3 Offer:0 ...] TX[...]".
func (c *Counters) Format(gen Generation, v dhcp.Version) string {
	var sb strings.Builder
	for i, dir := range Directions {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(dir.String())
		sb.WriteByte('[')
		for j, code := range dhcp.CountableTypes(v) {
			if j > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%s:%d", dhcp.TypeName(v, code), c.Get(gen, dir, v, code))
		}
		sb.WriteByte(']')
	}
	return sb.String()
}
