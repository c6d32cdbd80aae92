package capture

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"github.com/veesix-networks/dhcpmon/internal/classify"
	"github.com/veesix-networks/dhcpmon/internal/device"
	"github.com/veesix-networks/dhcpmon/pkg/logger"
)

var ErrSnaplenTooSmall = errors.New("snaplen too small")

type Mode string

const (
	// ModeSplit opens one inbound and one outbound socket on every
	// interface and takes direction from the kernel packet type.
	ModeSplit Mode = "split"
	// ModeCombined opens one socket per monitored interface and infers
	// direction from the source MAC.
	ModeCombined Mode = "combined"
)

const (
	minV4Snaplen = ethHeaderLen + 20 + 8 + 240
	minV6Snaplen = ethHeaderLen + ipv6HeaderLen + 8 + 1
	maxSnaplen   = 65535
)

// MinSnaplen is the smallest capture length that still reaches the
// message type of every enabled version.
func MinSnaplen(v4, v6 bool) int {
	if v4 {
		return minV4Snaplen
	}
	if v6 {
		return minV6Snaplen
	}
	return 0
}

type Options struct {
	Mode    Mode
	Snaplen int
	IPv4    bool
	IPv6    bool
	Netns   string
}

// IndexResolver maps a kernel ifindex to an interface name.
type IndexResolver interface {
	NameByIndex(index int) (string, bool)
}

// DeviceResolver maps an interface name to the device charged for it.
type DeviceResolver interface {
	Resolve(physical string) (*device.Device, bool)
}

type FrameClassifier interface {
	Classify(d *device.Device, dir device.Direction, frame []byte) (classify.Result, error)
}

// Stats are owned by the reactor goroutine.
type Stats struct {
	Received   uint64
	Counted    uint64
	Unmapped   uint64
	Dropped    uint64
	ReadErrors uint64
}

type Engine struct {
	opts       Options
	names      IndexResolver
	devices    DeviceResolver
	classifier FrameClassifier

	reactor *Reactor
	buf     []byte
	stats   Stats

	logger *slog.Logger
}

func NewEngine(opts Options, names IndexResolver, devices DeviceResolver, classifier FrameClassifier) (*Engine, error) {
	if opts.Mode == "" {
		opts.Mode = ModeSplit
	}
	if opts.Mode != ModeSplit && opts.Mode != ModeCombined {
		return nil, fmt.Errorf("unknown capture mode %q", opts.Mode)
	}
	if floor := MinSnaplen(opts.IPv4, opts.IPv6); opts.Snaplen < floor {
		return nil, fmt.Errorf("%w: %d < %d", ErrSnaplenTooSmall, opts.Snaplen, floor)
	}
	if opts.Snaplen > maxSnaplen {
		opts.Snaplen = maxSnaplen
	}

	return &Engine{
		opts:       opts,
		names:      names,
		devices:    devices,
		classifier: classifier,
		buf:        make([]byte, opts.Snaplen),
		logger:     logger.Get(logger.Capture),
	}, nil
}

// Open creates the reactor and its sockets. monitored is only used in
// combined mode.
func (e *Engine) Open(monitored []*device.Device) error {
	reactor, err := NewReactor()
	if err != nil {
		return err
	}
	e.reactor = reactor

	fopts := FilterOptions{IPv4: e.opts.IPv4, IPv6: e.opts.IPv6, Snaplen: uint32(e.opts.Snaplen)}

	err = inNamespace(e.opts.Netns, func() error {
		switch e.opts.Mode {
		case ModeCombined:
			return e.openCombined(monitored, fopts)
		default:
			return e.openSplit(fopts)
		}
	})
	if err != nil {
		e.reactor.Close()
		e.reactor = nil
		return err
	}

	e.logger.Info("Capture started", "mode", e.opts.Mode, "snaplen", e.opts.Snaplen,
		"ipv4", e.opts.IPv4, "ipv6", e.opts.IPv6, "sockets", len(e.reactor.sockets))
	return nil
}

func (e *Engine) openSplit(fopts FilterOptions) error {
	for _, dir := range []FilterDirection{FilterInbound, FilterOutbound} {
		insns, err := BuildFilter(dir, fopts)
		if err != nil {
			return err
		}
		s, err := openSocket(0, dir, insns)
		if err != nil {
			return fmt.Errorf("%s socket: %w", dir, err)
		}
		if err := e.reactor.Add(s); err != nil {
			s.Close()
			return err
		}
	}
	return nil
}

func (e *Engine) openCombined(monitored []*device.Device, fopts FilterOptions) error {
	insns, err := BuildFilter(FilterAny, fopts)
	if err != nil {
		return err
	}
	for _, d := range monitored {
		s, err := openSocket(d.Index, FilterAny, insns)
		if err != nil {
			return fmt.Errorf("socket on %s: %w", d.Name, err)
		}
		s.device = d
		if err := e.reactor.Add(s); err != nil {
			s.Close()
			return err
		}
	}
	return nil
}

// Poll waits up to timeout and processes every readable socket. It
// reports whether the reactor was woken from another goroutine.
func (e *Engine) Poll(timeout time.Duration) (bool, error) {
	return e.reactor.Wait(timeout, e.drain)
}

func (e *Engine) Wake() error {
	if e.reactor == nil {
		return nil
	}
	return e.reactor.Wake()
}

func (e *Engine) Stats() Stats {
	return e.stats
}

func (e *Engine) Close() error {
	if e.reactor == nil {
		return nil
	}
	err := e.reactor.Close()
	e.reactor = nil
	return err
}

func (e *Engine) drain(s *Socket) {
	for {
		n, ifindex, err := s.Read(e.buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			e.stats.ReadErrors++
			e.logger.Warn("Socket read failed", "fd", s.fd, "error", err)
			return
		}
		e.dispatch(s, ifindex, e.buf[:n])
	}
}

// dispatch attributes one frame to a device and hands it to the
// classifier.
func (e *Engine) dispatch(s *Socket, ifindex int, frame []byte) {
	e.stats.Received++

	var (
		d   *device.Device
		dir device.Direction
	)
	if s.device != nil {
		d = s.device
		dir = device.RX
		if len(frame) >= 12 && len(d.MAC) == 6 && bytes.Equal(frame[6:12], d.MAC) {
			dir = device.TX
		}
	} else {
		name, ok := e.names.NameByIndex(ifindex)
		if !ok {
			e.stats.Unmapped++
			return
		}
		d, ok = e.devices.Resolve(name)
		if !ok {
			e.stats.Unmapped++
			return
		}
		dir = s.Direction()
	}

	res, err := e.classifier.Classify(d, dir, frame)
	if err != nil {
		e.stats.Dropped++
		e.logger.Debug("Dropped frame", "interface", d.Name, "direction", dir, "error", err)
		return
	}
	if res.Counted {
		e.stats.Counted++
	}
}
