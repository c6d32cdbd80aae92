// Package health evaluates relay health from counter deltas on every
// monitoring window.
package health

import (
	"fmt"

	"github.com/veesix-networks/dhcpmon/internal/device"
	"github.com/veesix-networks/dhcpmon/pkg/dhcp"
)

type CheckKind uint8

const (
	// Positive expects every monitored request seen in RX to be relayed.
	Positive CheckKind = iota
	// Negative expects no monitored traffic to be transmitted at all.
	Negative
)

func (k CheckKind) String() string {
	switch k {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	default:
		return fmt.Sprintf("CheckKind(%d)", uint8(k))
	}
}

// DeviceRef names the device a check reads.
type DeviceRef uint8

const (
	RefAggregate DeviceRef = iota
	RefManagement
)

func (r DeviceRef) String() string {
	if r == RefManagement {
		return "management"
	}
	return "aggregate"
}

type Verdict uint8

const (
	Indeterminate Verdict = iota
	Healthy
	Unhealthy
)

func (v Verdict) String() string {
	switch v {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	default:
		return "indeterminate"
	}
}

// State is the alerting state derived from a streak and the threshold.
type State uint8

const (
	StateHealthy State = iota
	StateSuspect
	StateAlerting
)

func (s State) String() string {
	switch s {
	case StateSuspect:
		return "suspect"
	case StateAlerting:
		return "alerting"
	default:
		return "healthy"
	}
}

func StateOf(streak, threshold int) State {
	switch {
	case streak == 0:
		return StateHealthy
	case streak > threshold:
		return StateAlerting
	default:
		return StateSuspect
	}
}

// Evaluate compares the Current and Snapshot generations of c for the
// monitored message types of v.
func Evaluate(kind CheckKind, c *device.Counters, v dhcp.Version) Verdict {
	monitored := dhcp.MonitoredTypes(v)

	var rxMoved, txMoved bool
	for _, code := range monitored {
		if c.Increased(device.RX, v, code) {
			rxMoved = true
		}
		if c.Increased(device.TX, v, code) {
			txMoved = true
		}
	}

	switch kind {
	case Negative:
		if !rxMoved && !txMoved {
			return Indeterminate
		}
		if txMoved {
			return Unhealthy
		}
		return Healthy
	default:
		if !rxMoved {
			return Indeterminate
		}
		for _, code := range monitored {
			if c.Increased(device.RX, v, code) && !c.Increased(device.TX, v, code) {
				return Unhealthy
			}
		}
		return Healthy
	}
}

// nextStreak applies one verdict to a consecutive-unhealthy streak.
func nextStreak(streak int, v Verdict) int {
	switch v {
	case Unhealthy:
		return streak + 1
	case Healthy:
		return 0
	default:
		if streak > 0 {
			return streak + 1
		}
		return 0
	}
}
