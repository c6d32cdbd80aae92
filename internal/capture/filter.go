// Package capture opens AF_PACKET sockets with kernel DHCP filters and
// drives them from a single epoll reactor.
package capture

import (
	"fmt"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"github.com/veesix-networks/dhcpmon/pkg/dhcp"
)

// FilterDirection selects which half of the traffic a socket filter keeps.
type FilterDirection uint8

const (
	FilterAny FilterDirection = iota
	FilterInbound
	FilterOutbound
)

func (d FilterDirection) String() string {
	switch d {
	case FilterInbound:
		return "inbound"
	case FilterOutbound:
		return "outbound"
	default:
		return "any"
	}
}

const (
	ethHeaderLen   = 14
	vlanTagLen     = 4
	ipv6HeaderLen  = 40
	etherTypeIPv4  = 0x0800
	etherTypeIPv6  = 0x86dd
	etherTypeDot1Q = 0x8100
	ipProtoUDP     = 17
	ipv4FragMask   = 0x1fff
)

// FilterOptions chooses the protocol versions the program accepts and the
// number of bytes it returns per frame.
type FilterOptions struct {
	IPv4    bool
	IPv6    bool
	Snaplen uint32
}

// program is a tiny label-resolving assembler for classic BPF.
type program struct {
	insns  []bpf.Instruction
	labels map[string]int
	fixups []fixup
}

type fixup struct {
	at            int
	jumpTrue      string
	jumpFalse     string
	unconditional bool
}

func newProgram() *program {
	return &program{labels: make(map[string]int)}
}

func (p *program) emit(ins ...bpf.Instruction) {
	p.insns = append(p.insns, ins...)
}

func (p *program) label(name string) {
	p.labels[name] = len(p.insns)
}

// jumpIf emits a conditional jump. An empty label falls through.
func (p *program) jumpIf(cond bpf.JumpTest, val uint32, onTrue, onFalse string) {
	p.fixups = append(p.fixups, fixup{at: len(p.insns), jumpTrue: onTrue, jumpFalse: onFalse})
	p.insns = append(p.insns, bpf.JumpIf{Cond: cond, Val: val})
}

func (p *program) jump(to string) {
	p.fixups = append(p.fixups, fixup{at: len(p.insns), jumpTrue: to, unconditional: true})
	p.insns = append(p.insns, bpf.Jump{})
}

func (p *program) skip(from int, label string) (int, error) {
	if label == "" {
		return 0, nil
	}
	to, ok := p.labels[label]
	if !ok {
		return 0, fmt.Errorf("bpf: undefined label %q", label)
	}
	skip := to - from - 1
	if skip < 0 {
		return 0, fmt.Errorf("bpf: backward jump to %q", label)
	}
	return skip, nil
}

func (p *program) assemble() ([]bpf.Instruction, error) {
	for _, f := range p.fixups {
		st, err := p.skip(f.at, f.jumpTrue)
		if err != nil {
			return nil, err
		}
		if f.unconditional {
			p.insns[f.at] = bpf.Jump{Skip: uint32(st)}
			continue
		}
		sf, err := p.skip(f.at, f.jumpFalse)
		if err != nil {
			return nil, err
		}
		if st > 255 || sf > 255 {
			return nil, fmt.Errorf("bpf: conditional jump at %d out of range", f.at)
		}
		ins := p.insns[f.at].(bpf.JumpIf)
		ins.SkipTrue, ins.SkipFalse = uint8(st), uint8(sf)
		p.insns[f.at] = ins
	}
	return p.insns, nil
}

// BuildFilter returns the DHCP capture program for the given direction.
// Inbound and outbound programs test the kernel packet type first, which
// only the in-kernel interpreter can evaluate.
func BuildFilter(dir FilterDirection, opts FilterOptions) ([]bpf.Instruction, error) {
	p := newProgram()

	switch dir {
	case FilterInbound:
		p.emit(bpf.LoadExtension{Num: bpf.ExtType})
		p.jumpIf(bpf.JumpEqual, unix.PACKET_OUTGOING, "drop", "")
	case FilterOutbound:
		p.emit(bpf.LoadExtension{Num: bpf.ExtType})
		p.jumpIf(bpf.JumpEqual, unix.PACKET_OUTGOING, "", "drop")
	}

	p.emit(bpf.LoadAbsolute{Off: 12, Size: 2})
	p.jumpIf(bpf.JumpEqual, etherTypeDot1Q, "tagged", "")
	p.jumpIf(bpf.JumpEqual, etherTypeIPv4, "ip4", "")
	p.jumpIf(bpf.JumpEqual, etherTypeIPv6, "ip6", "drop")

	p.label("tagged")
	p.emit(bpf.LoadAbsolute{Off: 16, Size: 2})
	p.jumpIf(bpf.JumpEqual, etherTypeIPv4, "ip4.tagged", "")
	p.jumpIf(bpf.JumpEqual, etherTypeIPv6, "ip6.tagged", "drop")

	for _, l3 := range []struct {
		name string
		off  uint32
	}{
		{"ip4", ethHeaderLen},
		{"ip4.tagged", ethHeaderLen + vlanTagLen},
	} {
		p.label(l3.name)
		if !opts.IPv4 {
			p.jump("drop")
			continue
		}
		p.emit(bpf.LoadAbsolute{Off: l3.off + 9, Size: 1})
		p.jumpIf(bpf.JumpEqual, ipProtoUDP, "", "drop")
		p.emit(bpf.LoadAbsolute{Off: l3.off + 6, Size: 2})
		p.jumpIf(bpf.JumpBitsSet, ipv4FragMask, "drop", "")
		p.emit(bpf.LoadMemShift{Off: l3.off})
		p.emit(bpf.LoadIndirect{Off: l3.off, Size: 2})
		p.jumpIf(bpf.JumpEqual, uint32(dhcp.PortV4Server), "accept", "")
		p.jumpIf(bpf.JumpEqual, uint32(dhcp.PortV4Client), "accept", "")
		p.emit(bpf.LoadIndirect{Off: l3.off + 2, Size: 2})
		p.jumpIf(bpf.JumpEqual, uint32(dhcp.PortV4Server), "accept", "")
		p.jumpIf(bpf.JumpEqual, uint32(dhcp.PortV4Client), "accept", "drop")
	}

	for _, l3 := range []struct {
		name string
		off  uint32
	}{
		{"ip6", ethHeaderLen},
		{"ip6.tagged", ethHeaderLen + vlanTagLen},
	} {
		p.label(l3.name)
		if !opts.IPv6 {
			p.jump("drop")
			continue
		}
		p.emit(bpf.LoadAbsolute{Off: l3.off + 6, Size: 1})
		p.jumpIf(bpf.JumpEqual, ipProtoUDP, "", "drop")
		p.emit(bpf.LoadAbsolute{Off: l3.off + ipv6HeaderLen, Size: 2})
		p.jumpIf(bpf.JumpEqual, uint32(dhcp.PortV6Server), "accept", "")
		p.jumpIf(bpf.JumpEqual, uint32(dhcp.PortV6Client), "accept", "")
		p.emit(bpf.LoadAbsolute{Off: l3.off + ipv6HeaderLen + 2, Size: 2})
		p.jumpIf(bpf.JumpEqual, uint32(dhcp.PortV6Server), "accept", "")
		p.jumpIf(bpf.JumpEqual, uint32(dhcp.PortV6Client), "accept", "drop")
	}

	p.label("accept")
	p.emit(bpf.RetConstant{Val: opts.Snaplen})
	p.label("drop")
	p.emit(bpf.RetConstant{Val: 0})

	return p.assemble()
}

// sockFprog assembles a program into the form SO_ATTACH_FILTER expects.
func sockFprog(insns []bpf.Instruction) (*unix.SockFprog, error) {
	raw, err := bpf.Assemble(insns)
	if err != nil {
		return nil, fmt.Errorf("assemble filter: %w", err)
	}
	filter := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		filter[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return &unix.SockFprog{Len: uint16(len(filter)), Filter: &filter[0]}, nil
}
