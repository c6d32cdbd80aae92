package capture

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/vishvananda/netns"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"github.com/veesix-networks/dhcpmon/internal/device"
)

const socketRcvBuf = 4 << 20

// Socket is a non-blocking AF_PACKET socket with a DHCP filter attached.
type Socket struct {
	fd      int
	ifindex int
	dir     FilterDirection
	// device is set in combined mode, where the socket is bound to one
	// monitored interface.
	device *device.Device
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

// openSocket creates a packet socket bound to ifindex (0 for every
// interface) with insns attached before bind so no unfiltered frame is
// queued.
func openSocket(ifindex int, dir FilterDirection, insns []bpf.Instruction) (*Socket, error) {
	proto := htons(unix.ETH_P_ALL)

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	prog, err := sockFprog(insns)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, prog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("attach %s filter: %w", dir, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, socketRcvBuf); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set receive buffer: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrLinklayer{Protocol: proto, Ifindex: ifindex}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind ifindex %d: %w", ifindex, err)
	}

	return &Socket{fd: fd, ifindex: ifindex, dir: dir}, nil
}

func (s *Socket) FD() int {
	return s.fd
}

// Direction is the direction of every frame read from a split-mode socket.
func (s *Socket) Direction() device.Direction {
	if s.dir == FilterOutbound {
		return device.TX
	}
	return device.RX
}

// Read returns one frame and the ifindex it was seen on. It returns
// unix.EAGAIN once the queue is empty.
func (s *Socket) Read(buf []byte) (int, int, error) {
	n, from, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		return 0, 0, err
	}
	ifindex := s.ifindex
	if ll, ok := from.(*unix.SockaddrLinklayer); ok {
		ifindex = ll.Ifindex
	}
	return n, ifindex, nil
}

func (s *Socket) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

// inNamespace runs fn with the calling OS thread switched into the named
// network namespace. Sockets created by fn stay in that namespace.
func inNamespace(name string, fn func() error) error {
	if name == "" {
		return fn()
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origin, err := netns.Get()
	if err != nil {
		return fmt.Errorf("get current netns: %w", err)
	}
	defer origin.Close()

	target, err := netns.GetFromName(name)
	if err != nil {
		return fmt.Errorf("get netns %q: %w", name, err)
	}
	defer target.Close()

	if err := netns.Set(target); err != nil {
		return fmt.Errorf("enter netns %q: %w", name, err)
	}

	fnErr := fn()

	if err := netns.Set(origin); err != nil {
		return errors.Join(fnErr, fmt.Errorf("restore netns: %w", err))
	}
	return fnErr
}
