package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/veesix-networks/dhcpmon/internal/capture"
	"github.com/veesix-networks/dhcpmon/internal/classify"
	"github.com/veesix-networks/dhcpmon/internal/device"
	"github.com/veesix-networks/dhcpmon/internal/exporter"
	"github.com/veesix-networks/dhcpmon/internal/health"
	"github.com/veesix-networks/dhcpmon/internal/monitor"
	"github.com/veesix-networks/dhcpmon/pkg/component"
	"github.com/veesix-networks/dhcpmon/pkg/config"
	"github.com/veesix-networks/dhcpmon/pkg/dhcp"
	"github.com/veesix-networks/dhcpmon/pkg/ifmgr"
	"github.com/veesix-networks/dhcpmon/pkg/logger"
	"github.com/veesix-networks/dhcpmon/pkg/portmap"
	"github.com/veesix-networks/dhcpmon/pkg/version"
)

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flags := config.NewFlags(fs)
	fs.Parse(os.Args[1:])

	if flags.ShowVersion {
		fmt.Println("dhcpmond", version.Full())
		return
	}

	cfg := config.Default()
	if flags.ConfigPath != "" {
		loaded, err := config.Load(flags.ConfigPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if cfg.Daemonize && os.Getenv(daemonEnv) == "" {
		if err := daemonize(cfg.Logging.File); err != nil {
			fmt.Fprintf(os.Stderr, "dhcpmond: startup failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ready := childReadiness()

	logger.Configure(cfg.Logging.Format, logger.LogLevel(cfg.Logging.Level), cfg.Logging.ComponentLevels())
	if cfg.Logging.File != "" {
		logFile, err := logger.SetOutputFile(cfg.Logging.File)
		if err != nil {
			ready.notify(err)
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer logFile.Close()
	}

	if err := run(cfg, ready.notify); err != nil {
		ready.notify(err)
		logger.Get(logger.Main).Error("dhcpmond exiting", "error", err)
		os.Exit(1)
	}
}

// run starts the monitor and blocks until it stops. started is called once
// every startup step has succeeded.
func run(cfg *config.Config, started func(error)) error {
	mainLog := logger.Get(logger.Main)
	mainLog.Info("Starting dhcpmond", "version", version.Version,
		"downlink", cfg.Interfaces.Downlink, "uplinks", cfg.Interfaces.Uplinks,
		"management", cfg.Interfaces.Management, "window", cfg.Monitor.Window(),
		"threshold", cfg.Monitor.Threshold())

	ctx := context.Background()

	links, err := ifmgr.New(cfg.Monitor.Netns)
	if err != nil {
		return err
	}
	defer links.Close()
	if err := links.Refresh(); err != nil {
		return fmt.Errorf("list interfaces: %w", err)
	}

	mapper, mux, closeMap, err := openPortMap(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeMap()

	devices, err := buildDevices(cfg, links, mapper, mux)
	if err != nil {
		return err
	}

	versions := cfg.Monitor.Versions()
	v4, v6 := hasVersion(versions, dhcp.V4), hasVersion(versions, dhcp.V6)

	classifier := classify.New(devices.Aggregate(), v4, v6)
	engine, err := capture.NewEngine(capture.Options{
		Mode:    capture.Mode(cfg.Monitor.CaptureMode),
		Snaplen: cfg.Monitor.Snaplen,
		IPv4:    v4,
		IPv6:    v6,
		Netns:   cfg.Monitor.Netns,
	}, links, devices, classifier)
	if err != nil {
		return err
	}

	monitored := append([]*device.Device{devices.Downlink()}, devices.Uplinks()...)
	if mgmt := devices.Management(); mgmt != nil {
		monitored = append(monitored, mgmt)
	}
	if err := engine.Open(monitored); err != nil {
		return fmt.Errorf("open capture: %w", err)
	}

	evaluator := health.NewEvaluator(health.Config{
		Window:    cfg.Monitor.Window(),
		Threshold: cfg.Monitor.Threshold(),
		Versions:  versions,
	}, devices)

	mon := monitor.New(monitor.Config{
		Window:   cfg.Monitor.Window(),
		Versions: versions,
		Signals:  true,
	}, engine, devices, evaluator)

	orchestrator := component.NewOrchestrator()
	orchestrator.Register(mon)
	if cfg.Metrics.ListenAddress != "" {
		orchestrator.Register(exporter.New(cfg.Metrics.ListenAddress, mon))
	}

	if err := orchestrator.Start(ctx); err != nil {
		return err
	}
	mainLog.Info("dhcpmond started", "gateway", devices.Gateway(), "dual_tor", devices.DualToR())
	started(nil)

	loopErr := <-mon.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := orchestrator.Stop(stopCtx); err != nil {
		mainLog.Warn("Shutdown finished with errors", "error", err)
	}

	mainLog.Info("dhcpmond stopped")
	return loopErr
}

func openPortMap(ctx context.Context, cfg *config.Config) (portmap.Mapper, portmap.MuxStateReader, func(), error) {
	plog := logger.Get(logger.PortMap)

	if cfg.PortMap.Source != config.PortMapSonic {
		table := portmap.NewStatic(cfg.PortMap.Static)
		plog.Info("Loaded static port map", "ports", len(table.Ports()))
		return table, portmap.NewStaticMux(cfg.PortMap.Static.StandbyPorts), func() {}, nil
	}

	client := portmap.NewSonicClient(cfg.PortMap.Redis.Address)
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("connect to SONiC redis at %s: %w", cfg.PortMap.Redis.Address, err)
	}
	table, err := client.LoadTable(connectCtx)
	if err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("load port map: %w", err)
	}
	plog.Info("Loaded SONiC port map", "ports", len(table.Ports()))

	closeFn := func() {
		if err := client.Close(); err != nil {
			plog.Warn("Failed to close redis client", "error", err)
		}
	}
	return table, client, closeFn, nil
}

func buildDevices(cfg *config.Config, links *ifmgr.Manager, mapper portmap.Mapper, mux portmap.MuxStateReader) (*device.Manager, error) {
	devices := device.NewManager(links, mapper, mux)

	if lo := cfg.Interfaces.Loopback; lo != "" {
		if err := devices.EnableDualToR(lo); err != nil {
			logger.Get(logger.DevMan).Warn("Dual ToR disabled, loopback unusable", "loopback", lo, "error", err)
		}
	}

	if _, err := devices.AddDownlink(cfg.Interfaces.Downlink); err != nil {
		return nil, err
	}
	for _, up := range cfg.Interfaces.Uplinks {
		if _, err := devices.AddUplink(up); err != nil {
			return nil, err
		}
	}
	if mgmt := cfg.Interfaces.Management; mgmt != "" {
		if _, err := devices.AddManagement(mgmt); err != nil {
			return nil, err
		}
	}

	if err := devices.Validate(); err != nil {
		if errors.Is(err, device.ErrTopology) {
			return nil, fmt.Errorf("interface topology: %w", err)
		}
		return nil, err
	}
	return devices, nil
}

func hasVersion(versions []dhcp.Version, v dhcp.Version) bool {
	for _, have := range versions {
		if have == v {
			return true
		}
	}
	return false
}
