package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid config")

// Default returns a config with every default applied and no interfaces.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Monitor.WindowSeconds == 0 {
		c.Monitor.WindowSeconds = DefaultWindowSeconds
	}
	if c.Monitor.Snaplen == 0 {
		c.Monitor.Snaplen = DefaultSnaplen
	}
	if c.Monitor.CaptureMode == "" {
		c.Monitor.CaptureMode = "split"
	}
	if c.PortMap.Source == "" {
		c.PortMap.Source = PortMapStatic
	}
	if c.PortMap.Source == PortMapSonic && c.PortMap.Redis.Address == "" {
		c.PortMap.Redis.Address = DefaultRedisAddress
	}
}

// Validate checks the merged config. It runs after flags are applied.
func (c *Config) Validate() error {
	var errs []error

	ifc := c.Interfaces
	if ifc.Downlink == "" {
		errs = append(errs, errors.New("interfaces.downlink is required"))
	}
	if len(ifc.Uplinks) == 0 {
		errs = append(errs, errors.New("interfaces.uplinks needs at least one interface"))
	}

	seen := make(map[string]string)
	check := func(field, name string) {
		if name == "" {
			return
		}
		if prev, ok := seen[name]; ok {
			errs = append(errs, fmt.Errorf("%s: %q already used as %s", field, name, prev))
			return
		}
		seen[name] = field
	}
	check("interfaces.downlink", ifc.Downlink)
	for i, up := range ifc.Uplinks {
		if up == "" {
			errs = append(errs, fmt.Errorf("interfaces.uplinks[%d] is empty", i))
			continue
		}
		check(fmt.Sprintf("interfaces.uplinks[%d]", i), up)
	}
	check("interfaces.management", ifc.Management)

	m := c.Monitor
	if m.WindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("monitor.window must be positive, got %d", m.WindowSeconds))
	}
	if m.Threshold() < 0 {
		errs = append(errs, fmt.Errorf("monitor.unhealthy_threshold must not be negative, got %d", m.Threshold()))
	}
	if m.Snaplen <= 0 {
		errs = append(errs, fmt.Errorf("monitor.snaplen must be positive, got %d", m.Snaplen))
	}
	switch m.CaptureMode {
	case "split", "combined":
	default:
		errs = append(errs, fmt.Errorf("monitor.capture_mode %q: want split or combined", m.CaptureMode))
	}

	switch c.PortMap.Source {
	case PortMapStatic, PortMapSonic:
	default:
		errs = append(errs, fmt.Errorf("portmap.source %q: want %s or %s", c.PortMap.Source, PortMapStatic, PortMapSonic))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q: want text or json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
