package config

import (
	"flag"
	"strings"
)

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// Flags holds the command line options. Only flags that were set on the
// command line override the file.
type Flags struct {
	ConfigPath  string
	ShowVersion bool

	fs         *flag.FlagSet
	downlink   string
	uplinks    stringList
	management string
	loopback   string
	window     int
	threshold  int
	snaplen    int
	ipv4       bool
	ipv6       bool
	daemonize  bool
}

func NewFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVar(&f.ConfigPath, "config", "", "Path to YAML configuration file")
	fs.BoolVar(&f.ShowVersion, "version", false, "Print version and exit")
	fs.StringVar(&f.downlink, "id", "", "Downstream (client facing) interface, usually a VLAN")
	fs.Var(&f.uplinks, "iu", "Upstream interface, repeatable")
	fs.StringVar(&f.management, "im", "", "Management interface")
	fs.StringVar(&f.loopback, "u", "", "Loopback interface whose IPv4 address is the relay gateway (dual ToR)")
	fs.IntVar(&f.window, "w", DefaultWindowSeconds, "Health check window in seconds")
	fs.IntVar(&f.threshold, "c", DefaultUnhealthyThreshold, "Unhealthy windows before alerting")
	fs.IntVar(&f.snaplen, "s", DefaultSnaplen, "Capture snap length in bytes")
	fs.BoolVar(&f.ipv4, "4", false, "Monitor DHCPv4 (default when neither -4 nor -6 is given)")
	fs.BoolVar(&f.ipv6, "6", false, "Monitor DHCPv6")
	fs.BoolVar(&f.daemonize, "d", false, "Detach and run in the background")
	return f
}

// Apply overlays every explicitly set flag onto cfg.
func (f *Flags) Apply(cfg *Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "id":
			cfg.Interfaces.Downlink = f.downlink
		case "iu":
			cfg.Interfaces.Uplinks = append([]string(nil), f.uplinks...)
		case "im":
			cfg.Interfaces.Management = f.management
		case "u":
			cfg.Interfaces.Loopback = f.loopback
		case "w":
			cfg.Monitor.WindowSeconds = f.window
		case "c":
			n := f.threshold
			cfg.Monitor.UnhealthyThreshold = &n
		case "s":
			cfg.Monitor.Snaplen = f.snaplen
		case "4":
			cfg.Monitor.IPv4 = f.ipv4
		case "6":
			cfg.Monitor.IPv6 = f.ipv6
		case "d":
			cfg.Daemonize = f.daemonize
		}
	})

	if cfg.Daemonize && cfg.Logging.File == "" {
		cfg.Logging.File = DefaultDaemonLogFile
	}
}
