package config

import (
	"time"

	"github.com/veesix-networks/dhcpmon/pkg/dhcp"
	"github.com/veesix-networks/dhcpmon/pkg/logger"
	"github.com/veesix-networks/dhcpmon/pkg/portmap"
)

const (
	DefaultWindowSeconds      = 18
	DefaultUnhealthyThreshold = 10
	DefaultSnaplen            = 65535
	DefaultRedisAddress       = "127.0.0.1:6379"
	DefaultDaemonLogFile      = "/var/log/dhcpmond.log"

	PortMapStatic = "static"
	PortMapSonic  = "sonic"
)

type Config struct {
	Logging    LoggingConfig    `json:"logging,omitempty" yaml:"logging,omitempty"`
	Interfaces InterfacesConfig `json:"interfaces,omitempty" yaml:"interfaces,omitempty"`
	Monitor    MonitorConfig    `json:"monitor,omitempty" yaml:"monitor,omitempty"`
	PortMap    PortMapConfig    `json:"portmap,omitempty" yaml:"portmap,omitempty"`
	Metrics    MetricsConfig    `json:"metrics,omitempty" yaml:"metrics,omitempty"`

	// Daemonize is only settable from the command line.
	Daemonize bool `json:"-" yaml:"-"`
}

type LoggingConfig struct {
	Format     string            `json:"format,omitempty" yaml:"format,omitempty"`
	Level      string            `json:"level,omitempty" yaml:"level,omitempty"`
	Components map[string]string `json:"components,omitempty" yaml:"components,omitempty"`
	// File receives all log output when set. Daemon mode falls back to
	// DefaultDaemonLogFile.
	File       string            `json:"file,omitempty" yaml:"file,omitempty"`
}

func (l LoggingConfig) ComponentLevels() map[string]logger.LogLevel {
	out := make(map[string]logger.LogLevel, len(l.Components))
	for name, lvl := range l.Components {
		out[name] = logger.LogLevel(lvl)
	}
	return out
}

type InterfacesConfig struct {
	Downlink   string   `json:"downlink,omitempty" yaml:"downlink,omitempty"`
	Uplinks    []string `json:"uplinks,omitempty" yaml:"uplinks,omitempty"`
	Management string   `json:"management,omitempty" yaml:"management,omitempty"`
	// Loopback enables dual-ToR mode; its IPv4 address becomes the
	// expected gateway.
	Loopback string `json:"loopback,omitempty" yaml:"loopback,omitempty"`
}

type MonitorConfig struct {
	WindowSeconds      int    `json:"window,omitempty" yaml:"window,omitempty"`
	UnhealthyThreshold *int   `json:"unhealthy_threshold,omitempty" yaml:"unhealthy_threshold,omitempty"`
	Snaplen            int    `json:"snaplen,omitempty" yaml:"snaplen,omitempty"`
	IPv4               bool   `json:"ipv4,omitempty" yaml:"ipv4,omitempty"`
	IPv6               bool   `json:"ipv6,omitempty" yaml:"ipv6,omitempty"`
	CaptureMode        string `json:"capture_mode,omitempty" yaml:"capture_mode,omitempty"`
	Netns              string `json:"netns,omitempty" yaml:"netns,omitempty"`
}

func (m MonitorConfig) Window() time.Duration {
	return time.Duration(m.WindowSeconds) * time.Second
}

func (m MonitorConfig) Threshold() int {
	if m.UnhealthyThreshold == nil {
		return DefaultUnhealthyThreshold
	}
	return *m.UnhealthyThreshold
}

// Versions returns the enabled protocol versions, DHCPv4 when neither is
// set.
func (m MonitorConfig) Versions() []dhcp.Version {
	var out []dhcp.Version
	if m.IPv4 || !m.IPv6 {
		out = append(out, dhcp.V4)
	}
	if m.IPv6 {
		out = append(out, dhcp.V6)
	}
	return out
}

type PortMapConfig struct {
	Source string               `json:"source,omitempty" yaml:"source,omitempty"`
	Static portmap.StaticConfig `json:"static,omitempty" yaml:"static,omitempty"`
	Redis  RedisConfig          `json:"redis,omitempty" yaml:"redis,omitempty"`
}

type RedisConfig struct {
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
}

type MetricsConfig struct {
	ListenAddress string `json:"listen_address,omitempty" yaml:"listen_address,omitempty"`
}
