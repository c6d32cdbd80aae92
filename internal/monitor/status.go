package monitor

import (
	"time"

	"github.com/veesix-networks/dhcpmon/internal/capture"
	"github.com/veesix-networks/dhcpmon/internal/device"
	"github.com/veesix-networks/dhcpmon/internal/health"
)

// Status is an immutable copy of the monitor state, published by the
// reactor goroutine after every tick and dump.
type Status struct {
	Time    time.Time          `json:"time"`
	Ticks   uint64             `json:"ticks"`
	Window  time.Duration      `json:"window"`
	Devices []DeviceStatus     `json:"devices"`
	Checks  []health.CheckInfo `json:"checks"`
	Capture capture.Stats      `json:"capture"`
}

type DeviceStatus struct {
	Name     string       `json:"name"`
	Role     string       `json:"role"`
	Current  device.Table `json:"-"`
	Snapshot device.Table `json:"-"`
}

// Alerting reports whether any check is above its threshold.
func (s *Status) Alerting() bool {
	for _, c := range s.Checks {
		if c.Alerting {
			return true
		}
	}
	return false
}

func buildStatus(now time.Time, window time.Duration, devices []*device.Device, checks []health.CheckInfo, ticks uint64, stats capture.Stats) *Status {
	s := &Status{
		Time:    now,
		Ticks:   ticks,
		Window:  window,
		Checks:  checks,
		Capture: stats,
		Devices: make([]DeviceStatus, 0, len(devices)),
	}
	for _, d := range devices {
		s.Devices = append(s.Devices, DeviceStatus{
			Name:     d.Name,
			Role:     d.Role.String(),
			Current:  d.Counters.Export(device.Current),
			Snapshot: d.Counters.Export(device.Snapshot),
		})
	}
	return s
}
