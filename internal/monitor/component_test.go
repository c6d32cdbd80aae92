package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"inet.af/netaddr"

	"github.com/veesix-networks/dhcpmon/internal/capture"
	"github.com/veesix-networks/dhcpmon/internal/device"
	"github.com/veesix-networks/dhcpmon/internal/health"
	"github.com/veesix-networks/dhcpmon/pkg/dhcp"
	"github.com/veesix-networks/dhcpmon/pkg/ifmgr"
)

// fakePoller advances a fake clock by the full timeout on every poll and
// calls onPoll so tests can inject traffic and requests.
type fakePoller struct {
	clock  *time.Time
	woken  bool
	polls  int
	onPoll func(n int)
	closed bool
}

func (p *fakePoller) Poll(timeout time.Duration) (bool, error) {
	p.polls++
	if p.onPoll != nil {
		p.onPoll(p.polls)
	}
	if p.woken {
		p.woken = false
		return true, nil
	}
	*p.clock = p.clock.Add(timeout)
	return false, nil
}

func (p *fakePoller) Wake() error {
	p.woken = true
	return nil
}

func (p *fakePoller) Stats() capture.Stats { return capture.Stats{Received: uint64(p.polls)} }

func (p *fakePoller) Close() error {
	p.closed = true
	return nil
}

func newTestMonitor(t *testing.T, threshold int) (*Component, *fakePoller, *device.Manager) {
	t.Helper()

	links := ifmgr.NewStatic(
		&ifmgr.Interface{Index: 10, Name: "Vlan1000", IPv4Addresses: []netaddr.IP{netaddr.MustParseIP("192.168.0.1")}},
		&ifmgr.Interface{Index: 20, Name: "PortChannel01"},
	)
	devices := device.NewManager(links, nil, nil)
	_, err := devices.AddDownlink("Vlan1000")
	require.NoError(t, err)
	_, err = devices.AddUplink("PortChannel01")
	require.NoError(t, err)

	versions := []dhcp.Version{dhcp.V4}
	window := 18 * time.Second
	eval := health.NewEvaluator(health.Config{Window: window, Threshold: threshold, Versions: versions}, devices)

	clock := time.Unix(1700000000, 0)
	poller := &fakePoller{clock: &clock}
	c := New(Config{Window: window, Versions: versions}, poller, devices, eval)
	c.now = func() time.Time { return clock }
	c.StartContext(context.Background())
	return c, poller, devices
}

func TestLoopTicksEveryWindow(t *testing.T) {
	c, poller, devices := newTestMonitor(t, 1)

	poller.onPoll = func(n int) {
		// one unrelayed Discover per window
		devices.Aggregate().Counters.Inc(device.RX, dhcp.V4, uint8(dhcp.DHCPDiscover))
		if n == 3 {
			c.Request(RequestShutdown)
		}
	}

	require.NoError(t, c.loop())

	st := c.Status()
	require.NotNil(t, st)
	assert.Equal(t, uint64(2), st.Ticks)
	assert.True(t, st.Alerting(), "streak 2 is above threshold 1")
	require.NotEmpty(t, st.Checks)
	assert.Equal(t, "Agg-Vlan1000", st.Checks[0].Device)
	assert.Equal(t, 2, st.Checks[0].Streak)

	var agg *DeviceStatus
	for i := range st.Devices {
		if st.Devices[i].Name == "Agg-Vlan1000" {
			agg = &st.Devices[i]
		}
	}
	require.NotNil(t, agg)
	assert.Equal(t, uint64(3), agg.Current[dhcp.V4][device.RX][uint8(dhcp.DHCPDiscover)])
}

func TestTickPublishesFinishedWindow(t *testing.T) {
	c, poller, devices := newTestMonitor(t, 10)

	var atTick *Status
	poller.onPoll = func(n int) {
		switch n {
		case 1:
			devices.Aggregate().Counters.Inc(device.RX, dhcp.V4, uint8(dhcp.DHCPDiscover))
		case 2:
			atTick = c.Status()
			c.Request(RequestShutdown)
		}
	}
	require.NoError(t, c.loop())

	require.NotNil(t, atTick)
	assert.Equal(t, uint64(1), atTick.Ticks)
	var agg *DeviceStatus
	for i := range atTick.Devices {
		if atTick.Devices[i].Name == "Agg-Vlan1000" {
			agg = &atTick.Devices[i]
		}
	}
	require.NotNil(t, agg)
	discover := uint8(dhcp.DHCPDiscover)
	assert.Equal(t, uint64(1), agg.Current[dhcp.V4][device.RX][discover])
	assert.Equal(t, uint64(0), agg.Snapshot[dhcp.V4][device.RX][discover], "snapshot is the window start")

	// the live counters moved on after publishing
	assert.Equal(t, uint64(1), devices.Aggregate().Counters.Get(device.Snapshot, device.RX, dhcp.V4, discover))
}

func TestDumpRequestKeepsRunning(t *testing.T) {
	c, poller, _ := newTestMonitor(t, 10)

	poller.onPoll = func(n int) {
		switch n {
		case 1:
			c.Request(RequestDump)
		case 2:
			c.Request(RequestShutdown)
		}
	}

	require.NoError(t, c.loop())
	assert.Equal(t, 2, poller.polls)
	assert.Equal(t, uint64(0), c.Status().Ticks)
	assert.Equal(t, uint64(2), c.Status().Capture.Received)
}

func TestLoopExitsOnCancel(t *testing.T) {
	c, poller, _ := newTestMonitor(t, 10)

	poller.onPoll = func(n int) {
		if n == 2 {
			c.Cancel()
		}
	}
	require.NoError(t, c.loop())
	assert.Equal(t, 2, poller.polls)
}

func TestStartStop(t *testing.T) {
	c, poller, _ := newTestMonitor(t, 10)
	poller.onPoll = func(n int) {
		if n == 1 {
			c.Request(RequestShutdown)
		}
	}

	require.NoError(t, c.Start(context.Background()))
	select {
	case err := <-c.Done():
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
	require.NoError(t, c.Stop(context.Background()))
	assert.True(t, poller.closed)
}
