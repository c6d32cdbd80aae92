package health

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/veesix-networks/dhcpmon/internal/device"
	"github.com/veesix-networks/dhcpmon/pkg/dhcp"
	"github.com/veesix-networks/dhcpmon/pkg/logger"
)

type Config struct {
	Window    time.Duration
	Threshold int
	Versions  []dhcp.Version
}

// Devices is the part of the device manager the evaluator needs.
type Devices interface {
	Aggregate() *device.Device
	Management() *device.Device
	AdvanceSnapshots()
}

// Check is the mutable state of one health check. Only the evaluator
// touches it.
type Check struct {
	Kind   CheckKind
	Target DeviceRef

	streak  map[dhcp.Version]int
	verdict map[dhcp.Version]Verdict
	episode map[dhcp.Version]string
}

func newCheck(kind CheckKind, target DeviceRef) *Check {
	return &Check{
		Kind:    kind,
		Target:  target,
		streak:  make(map[dhcp.Version]int),
		verdict: make(map[dhcp.Version]Verdict),
		episode: make(map[dhcp.Version]string),
	}
}

func (c *Check) Streak(v dhcp.Version) int {
	return c.streak[v]
}

func (c *Check) Verdict(v dhcp.Version) Verdict {
	return c.verdict[v]
}

// Alert is raised for every check and version whose streak is above the
// threshold at the end of a tick.
type Alert struct {
	Kind     CheckKind
	Device   string
	Version  dhcp.Version
	Streak   int
	Duration time.Duration
	Episode  string
	Message  string
}

// CheckInfo is an immutable view of one check and version.
type CheckInfo struct {
	Kind     string `json:"kind"`
	Device   string `json:"device"`
	Version  string `json:"version"`
	Verdict  string `json:"verdict"`
	State    string `json:"state"`
	Streak   int    `json:"unhealthy-streak"`
	Episode  string `json:"episode,omitempty"`
	Alerting bool   `json:"alerting"`
}

type Evaluator struct {
	cfg     Config
	devices Devices
	checks  []*Check
	ticks   uint64
	newID   func() string
	logger  *slog.Logger
}

// NewEvaluator installs the positive aggregate check and, when a
// management interface exists, the negative management check.
func NewEvaluator(cfg Config, devices Devices) *Evaluator {
	e := &Evaluator{
		cfg:     cfg,
		devices: devices,
		newID:   func() string { return uuid.New().String() },
		logger:  logger.Get(logger.Health),
	}
	e.checks = append(e.checks, newCheck(Positive, RefAggregate))
	if devices.Management() != nil {
		e.checks = append(e.checks, newCheck(Negative, RefManagement))
	}
	return e
}

func (e *Evaluator) Checks() []*Check {
	return e.checks
}

func (e *Evaluator) Ticks() uint64 {
	return e.ticks
}

func (e *Evaluator) target(ref DeviceRef) *device.Device {
	if ref == RefManagement {
		return e.devices.Management()
	}
	return e.devices.Aggregate()
}

// Evaluate runs every check for every enabled version and logs an alert
// for each streak above the threshold. Counters are left untouched so the
// caller can publish the finished window before calling Advance.
func (e *Evaluator) Evaluate() []Alert {
	e.ticks++
	var alerts []Alert

	for _, c := range e.checks {
		d := e.target(c.Target)
		if d == nil {
			continue
		}
		for _, v := range e.cfg.Versions {
			verdict := Evaluate(c.Kind, &d.Counters, v)
			prev := c.streak[v]
			streak := nextStreak(prev, verdict)
			c.streak[v] = streak
			c.verdict[v] = verdict

			log := logger.WithDevice(e.logger, logger.DeviceAttrs{
				Interface: d.Name,
				Role:      d.Role.String(),
				Version:   v.String(),
			})

			if streak == 0 {
				if prev > e.cfg.Threshold {
					log.Info("Health check recovered", "check", c.Kind, "episode", c.episode[v], "streak", prev)
				}
				delete(c.episode, v)
				continue
			}

			if streak <= e.cfg.Threshold {
				log.Debug("Health check suspect", "check", c.Kind, "verdict", verdict, "streak", streak)
				continue
			}

			if c.episode[v] == "" {
				c.episode[v] = e.newID()
			}
			a := Alert{
				Kind:     c.Kind,
				Device:   d.Name,
				Version:  v,
				Streak:   streak,
				Duration: time.Duration(streak) * e.cfg.Window,
				Episode:  c.episode[v],
			}
			a.Message = alertMessage(a)
			alerts = append(alerts, a)

			logger.Alert(log, a.Message,
				"check", c.Kind,
				"streak", streak,
				"episode", a.Episode,
				"snapshot", d.Counters.Format(device.Snapshot, v),
				"current", d.Counters.Format(device.Current, v),
			)
		}
	}

	return alerts
}

// Advance copies every current counter into its snapshot.
func (e *Evaluator) Advance() {
	e.devices.AdvanceSnapshots()
}

func alertMessage(a Alert) string {
	secs := int64(a.Duration / time.Second)
	if a.Kind == Negative {
		return fmt.Sprintf("dhcpmon detected %s packets traveling through mgmt interface (please adjust DHCP server settings). Duration: %d (sec) for intf: '%s'",
			a.Version, secs, a.Device)
	}
	return fmt.Sprintf("dhcpmon detected disparity in %s Relay behavior. Duration: %d (sec) for vlan: '%s'",
		a.Version, secs, a.Device)
}

// Info returns a copy of every check's state for publication.
func (e *Evaluator) Info() []CheckInfo {
	var out []CheckInfo
	for _, c := range e.checks {
		name := ""
		if d := e.target(c.Target); d != nil {
			name = d.Name
		}
		for _, v := range e.cfg.Versions {
			streak := c.streak[v]
			state := StateOf(streak, e.cfg.Threshold)
			out = append(out, CheckInfo{
				Kind:     c.Kind.String(),
				Device:   name,
				Version:  v.String(),
				Verdict:  c.verdict[v].String(),
				State:    state.String(),
				Streak:   streak,
				Episode:  c.episode[v],
				Alerting: state == StateAlerting,
			})
		}
	}
	return out
}
