package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/floegence/lantun/observability"
	"github.com/floegence/lantun/observability/prom"
	"github.com/floegence/lantun/tunnel"
)

const (
	scrapeReadHeaderTimeout = 5 * time.Second
	scrapeWriteTimeout      = 30 * time.Second
	scrapeIdleTimeout       = 90 * time.Second
	scrapeMaxHeaderBytes    = 8 << 10
	scrapeShutdownTimeout   = 2 * time.Second
)

// newScrapeServer serves GET scrapes only, so request bodies are never read and the
// write timeout only has to cover rendering the registry.
func newScrapeServer(handler http.Handler, log *zap.Logger) *http.Server {
	errLog, _ := zap.NewStdLogAt(log.Named("metrics.http"), zap.WarnLevel)
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: scrapeReadHeaderTimeout,
		WriteTimeout:      scrapeWriteTimeout,
		IdleTimeout:       scrapeIdleTimeout,
		MaxHeaderBytes:    scrapeMaxHeaderBytes,
		ErrorLog:          errLog,
	}
}

// switchHandler lets the /metrics route be swapped at runtime.
type switchHandler struct {
	mu      sync.RWMutex
	handler http.Handler
}

func newSwitchHandler() *switchHandler {
	return &switchHandler{handler: http.NotFoundHandler()}
}

func (h *switchHandler) Set(next http.Handler) {
	if next == nil {
		next = http.NotFoundHandler()
	}
	h.mu.Lock()
	h.handler = next
	h.mu.Unlock()
}

func (h *switchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	handler := h.handler
	h.mu.RUnlock()
	handler.ServeHTTP(w, r)
}

// metricsController installs a fresh Prometheus registry on Enable and detaches it on Disable.
type metricsController struct {
	mu       sync.Mutex
	enabled  bool
	handler  *switchHandler
	observer *observability.AtomicTunnelObserver
	tun      *tunnel.Tunnel
}

func newMetricsController(handler *switchHandler, observer *observability.AtomicTunnelObserver, tun *tunnel.Tunnel) *metricsController {
	return &metricsController{
		handler:  handler,
		observer: observer,
		tun:      tun,
	}
}

func (c *metricsController) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return
	}
	reg := prom.NewRegistry()
	tunnelObs := prom.NewTunnelObserver(reg)
	c.handler.Set(prom.Handler(reg))
	c.observer.Set(tunnelObs)
	// Gauges start from the live state, counters from zero.
	st := c.tun.Stats()
	tunnelObs.ConnCount(int64(st.Connections))
	tunnelObs.QueueDepth(st.Queued)
	c.enabled = true
}

func (c *metricsController) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.handler.Set(nil)
	c.observer.Set(observability.NoopTunnelObserver)
	c.enabled = false
}

func (c *metricsController) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// metricsServer serves /metrics on addr until shutdown.
type metricsServer struct {
	ctrl *metricsController
	srv  *http.Server
	ln   net.Listener
}

func startMetricsServer(addr string, observer *observability.AtomicTunnelObserver, tun *tunnel.Tunnel, log *zap.Logger) (*metricsServer, error) {
	mux := http.NewServeMux()
	h := newSwitchHandler()
	mux.Handle("/metrics", h)
	ctrl := newMetricsController(h, observer, tun)
	ctrl.Enable()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		ctrl.Disable()
		return nil, err
	}
	srv := newScrapeServer(mux, log)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("metrics listening", zap.String("addr", ln.Addr().String()))
	return &metricsServer{ctrl: ctrl, srv: srv, ln: ln}, nil
}

func (m *metricsServer) Addr() string { return m.ln.Addr().String() }

func (m *metricsServer) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeShutdownTimeout)
	defer cancel()
	_ = m.srv.Shutdown(ctx)
}
