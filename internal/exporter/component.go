// Package exporter serves Prometheus metrics, probes and a JSON status
// view of the monitor over HTTP.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veesix-networks/dhcpmon/internal/device"
	"github.com/veesix-networks/dhcpmon/pkg/component"
	"github.com/veesix-networks/dhcpmon/pkg/dhcp"
	"github.com/veesix-networks/dhcpmon/pkg/logger"
)

const DefaultListenAddress = ":9090"

type Component struct {
	*component.Base
	logger        *slog.Logger
	source        StatusSource
	addr          string
	server        *http.Server
	listener      net.Listener
	mu            sync.RWMutex
	serverRunning bool
}

func New(addr string, source StatusSource) *Component {
	if addr == "" {
		addr = DefaultListenAddress
	}
	return &Component{
		Base:   component.NewBase("exporter"),
		logger: logger.Get(logger.Exporter),
		source: source,
		addr:   addr,
	}
}

// Addr returns the bound address once started.
func (c *Component) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener != nil {
		return c.listener.Addr().String()
	}
	return c.addr
}

func (c *Component) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverRunning
}

// Handler builds the HTTP mux with a private registry.
func (c *Component) Handler() http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(newCollector(c.source, c.logger))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", HealthzHandler())
	mux.HandleFunc("/readyz", ReadyzHandler(c.source))
	mux.HandleFunc("/status", StatusHandler(c.source))
	return mux
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)
	c.logger.Info("Starting exporter", "addr", c.addr)

	ln, err := net.Listen("tcp", c.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", c.addr, err)
	}

	c.mu.Lock()
	c.listener = ln
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	c.serverRunning = true
	server := c.server
	c.mu.Unlock()

	c.Go(func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("Exporter server failed", "error", err)
		}
		c.mu.Lock()
		c.serverRunning = false
		c.mu.Unlock()
	})
	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	c.logger.Info("Stopping exporter")

	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()

	var err error
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = server.Shutdown(shutdownCtx)
	}

	c.StopContext()
	return err
}

func namedTable(t device.Table) map[string]map[string]map[string]uint64 {
	out := make(map[string]map[string]map[string]uint64, len(t))
	for v, byDir := range t {
		dirs := make(map[string]map[string]uint64, len(byDir))
		for dir, byCode := range byDir {
			types := make(map[string]uint64, len(byCode))
			for code, n := range byCode {
				types[dhcp.TypeName(v, code)] = n
			}
			dirs[dir.String()] = types
		}
		out[v.String()] = dirs
	}
	return out
}
