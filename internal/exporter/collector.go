package exporter

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/veesix-networks/dhcpmon/internal/device"
	"github.com/veesix-networks/dhcpmon/internal/monitor"
	"github.com/veesix-networks/dhcpmon/pkg/dhcp"
)

// StatusSource returns the latest published monitor status.
type StatusSource interface {
	Status() *monitor.Status
}

type collector struct {
	source StatusSource
	logger *slog.Logger
	descs  map[string]*prometheus.Desc
}

func newCollector(source StatusSource, logger *slog.Logger) *collector {
	return &collector{
		source: source,
		logger: logger,
		descs: map[string]*prometheus.Desc{
			"packets": prometheus.NewDesc("dhcpmon_packets_total",
				"DHCP messages attributed to a device",
				[]string{"device", "role", "version", "direction", "type"}, nil),
			"streak": prometheus.NewDesc("dhcpmon_unhealthy_streak",
				"Consecutive unhealthy windows of a health check",
				[]string{"check", "device", "version"}, nil),
			"alerting": prometheus.NewDesc("dhcpmon_check_alerting",
				"Whether a health check is above its threshold (1) or not (0)",
				[]string{"check", "device", "version"}, nil),
			"ticks": prometheus.NewDesc("dhcpmon_windows_total",
				"Monitoring windows evaluated", nil, nil),
			"frames": prometheus.NewDesc("dhcpmon_capture_frames_total",
				"Frames read from capture sockets by outcome",
				[]string{"outcome"}, nil),
		},
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range c.descs {
		ch <- desc
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	st := c.source.Status()
	if st == nil {
		c.logger.Debug("No status published yet")
		return
	}

	for _, d := range st.Devices {
		for _, v := range dhcp.Versions {
			byDir, ok := d.Current[v]
			if !ok {
				continue
			}
			for _, dir := range device.Directions {
				for _, code := range dhcp.CountableTypes(v) {
					ch <- prometheus.MustNewConstMetric(c.descs["packets"], prometheus.CounterValue,
						float64(byDir[dir][code]),
						d.Name, d.Role, v.String(), dir.String(), dhcp.TypeName(v, code))
				}
			}
		}
	}

	for _, chk := range st.Checks {
		var alerting float64
		if chk.Alerting {
			alerting = 1
		}
		ch <- prometheus.MustNewConstMetric(c.descs["streak"], prometheus.GaugeValue,
			float64(chk.Streak), chk.Kind, chk.Device, chk.Version)
		ch <- prometheus.MustNewConstMetric(c.descs["alerting"], prometheus.GaugeValue,
			alerting, chk.Kind, chk.Device, chk.Version)
	}

	ch <- prometheus.MustNewConstMetric(c.descs["ticks"], prometheus.CounterValue, float64(st.Ticks))

	for outcome, n := range map[string]uint64{
		"received":    st.Capture.Received,
		"counted":     st.Capture.Counted,
		"unmapped":    st.Capture.Unmapped,
		"dropped":     st.Capture.Dropped,
		"read_errors": st.Capture.ReadErrors,
	} {
		ch <- prometheus.MustNewConstMetric(c.descs["frames"], prometheus.CounterValue, float64(n), outcome)
	}
}
