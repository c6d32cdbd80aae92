// Package monitor runs the capture reactor and the window tick on a single
// OS thread and publishes an immutable status after every tick.
package monitor

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/veesix-networks/dhcpmon/internal/capture"
	"github.com/veesix-networks/dhcpmon/internal/device"
	"github.com/veesix-networks/dhcpmon/internal/health"
	"github.com/veesix-networks/dhcpmon/pkg/component"
	"github.com/veesix-networks/dhcpmon/pkg/dhcp"
	"github.com/veesix-networks/dhcpmon/pkg/logger"
)

type Request uint8

const (
	// RequestDump logs every device's counters.
	RequestDump Request = iota + 1
	// RequestShutdown dumps and then stops the loop.
	RequestShutdown
)

func (r Request) String() string {
	switch r {
	case RequestDump:
		return "dump"
	case RequestShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Poller is the capture side of the loop.
type Poller interface {
	Poll(timeout time.Duration) (woken bool, err error)
	Wake() error
	Stats() capture.Stats
	Close() error
}

type Config struct {
	Window   time.Duration
	Versions []dhcp.Version
	// Signals installs SIGINT, SIGTERM and SIGUSR1 handling.
	Signals bool
}

type Component struct {
	*component.Base

	cfg       Config
	poller    Poller
	devices   *device.Manager
	evaluator *health.Evaluator

	requests chan Request
	status   atomic.Pointer[Status]
	done     chan error
	now      func() time.Time

	logger *slog.Logger
}

func New(cfg Config, poller Poller, devices *device.Manager, evaluator *health.Evaluator) *Component {
	c := &Component{
		Base:      component.NewBase("monitor"),
		cfg:       cfg,
		poller:    poller,
		devices:   devices,
		evaluator: evaluator,
		requests:  make(chan Request, 8),
		done:      make(chan error, 1),
		now:       time.Now,
		logger:    logger.Get(logger.Monitor),
	}
	c.publish()
	return c
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)
	c.logger.Info("Starting monitor", "window", c.cfg.Window, "versions", c.cfg.Versions)

	if c.cfg.Signals {
		c.Go(c.watchSignals)
	}
	c.Go(c.run)
	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	c.logger.Info("Stopping monitor")
	c.Cancel()
	if err := c.poller.Wake(); err != nil {
		c.logger.Warn("Failed to wake reactor", "error", err)
	}
	c.StopContext()
	return c.poller.Close()
}

// Done is closed when the loop exits. It carries the error that ended it,
// if any.
func (c *Component) Done() <-chan error {
	return c.done
}

// Status returns the last published status. Safe from any goroutine.
func (c *Component) Status() *Status {
	return c.status.Load()
}

// Request queues r for the reactor goroutine and wakes it.
func (c *Component) Request(r Request) {
	select {
	case c.requests <- r:
	default:
		c.logger.Warn("Request queue full, dropping request", "request", r)
		return
	}
	if err := c.poller.Wake(); err != nil {
		c.logger.Warn("Failed to wake reactor", "error", err)
	}
}

func (c *Component) watchSignals() {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-c.Ctx.Done():
			return
		case sig := <-sigCh:
			c.logger.Info("Received signal", "signal", sig)
			if sig == syscall.SIGUSR1 {
				c.Request(RequestDump)
				continue
			}
			c.Request(RequestShutdown)
		}
	}
}

func (c *Component) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	err := c.loop()
	if err != nil {
		c.logger.Error("Monitor loop failed", "error", err)
	}
	c.done <- err
	close(c.done)
}

func (c *Component) loop() error {
	deadline := c.now().Add(c.cfg.Window)
	for {
		now := c.now()
		if !now.Before(deadline) {
			c.tick()
			deadline = deadline.Add(c.cfg.Window)
			if !deadline.After(now) {
				deadline = now.Add(c.cfg.Window)
			}
			continue
		}

		woken, err := c.poller.Poll(deadline.Sub(now))
		if err != nil {
			return err
		}

		if c.Ctx.Err() != nil {
			return nil
		}
		if woken && c.drainRequests() {
			return nil
		}
	}
}

// drainRequests handles every queued request and reports whether the loop
// should stop.
func (c *Component) drainRequests() bool {
	for {
		select {
		case r := <-c.requests:
			if c.handle(r) {
				return true
			}
		default:
			return false
		}
	}
}

func (c *Component) handle(r Request) bool {
	switch r {
	case RequestDump:
		c.dump()
	case RequestShutdown:
		c.dump()
		c.logger.Info("Shutdown requested")
		return true
	}
	return false
}

// tick publishes the window with its snapshot still in place, then starts
// the next window.
func (c *Component) tick() {
	alerts := c.evaluator.Evaluate()
	c.publish()
	c.evaluator.Advance()
	c.logger.Debug("Window evaluated", "tick", c.evaluator.Ticks(), "alerts", len(alerts))
}

func (c *Component) dump() {
	stats := c.poller.Stats()
	c.logger.Info("Capture statistics",
		"received", stats.Received,
		"counted", stats.Counted,
		"unmapped", stats.Unmapped,
		"dropped", stats.Dropped,
		"read_errors", stats.ReadErrors)

	for _, d := range c.devices.Devices() {
		for _, v := range c.cfg.Versions {
			logger.WithDevice(c.logger, logger.DeviceAttrs{
				Interface: d.Name,
				Role:      d.Role.String(),
				Version:   v.String(),
			}).Info("Counters",
				"current", d.Counters.Format(device.Current, v),
				"snapshot", d.Counters.Format(device.Snapshot, v))
		}
	}
	c.publish()
}

func (c *Component) publish() {
	var stats capture.Stats
	if c.poller != nil {
		stats = c.poller.Stats()
	}
	c.status.Store(buildStatus(c.now(), c.cfg.Window, c.devices.Devices(), c.evaluator.Info(), c.evaluator.Ticks(), stats))
}
