package capture

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

const maxEvents = 16

// Reactor multiplexes packet sockets and a wake eventfd over one epoll
// instance. It must only be driven from a single goroutine.
type Reactor struct {
	epfd    int
	wakefd  int
	sockets map[int32]*Socket
	events  []unix.EpollEvent
}

func NewReactor() (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	r := &Reactor{
		epfd:    epfd,
		wakefd:  wakefd,
		sockets: make(map[int32]*Socket),
		events:  make([]unix.EpollEvent, maxEvents),
	}
	if err := r.register(wakefd); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reactor) register(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add %d: %w", fd, err)
	}
	return nil
}

func (r *Reactor) Add(s *Socket) error {
	if err := r.register(s.fd); err != nil {
		return err
	}
	r.sockets[int32(s.fd)] = s
	return nil
}

// Wake interrupts a blocked Wait. Safe to call from any goroutine.
func (r *Reactor) Wake() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(r.wakefd, buf[:])
	if errors.Is(err, unix.EAGAIN) {
		return nil
	}
	return err
}

func (r *Reactor) clearWake() {
	var buf [8]byte
	unix.Read(r.wakefd, buf[:])
}

// Wait blocks for at most timeout. Each readable socket is passed to
// onReadable, which must drain it. woken reports a Wake call.
func (r *Reactor) Wait(timeout time.Duration, onReadable func(*Socket)) (woken bool, err error) {
	msec := int((timeout + time.Millisecond - 1) / time.Millisecond)
	if msec < 0 {
		msec = 0
	}

	n, err := unix.EpollWait(r.epfd, r.events, msec)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, fmt.Errorf("epoll_wait: %w", err)
	}

	for i := 0; i < n; i++ {
		fd := r.events[i].Fd
		if int(fd) == r.wakefd {
			r.clearWake()
			woken = true
			continue
		}
		if s, ok := r.sockets[fd]; ok {
			onReadable(s)
		}
	}
	return woken, nil
}

func (r *Reactor) Close() error {
	var errs []error
	for _, s := range r.sockets {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.sockets = nil
	if r.wakefd >= 0 {
		unix.Close(r.wakefd)
		r.wakefd = -1
	}
	if r.epfd >= 0 {
		unix.Close(r.epfd)
		r.epfd = -1
	}
	return errors.Join(errs...)
}
