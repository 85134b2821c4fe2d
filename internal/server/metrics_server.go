package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/devrev/pairdb/logunit/internal/health"
	"github.com/devrev/pairdb/logunit/internal/metrics"
	"github.com/devrev/pairdb/logunit/internal/storage/diskmanager"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsServer serves Prometheus metrics and the health probes via HTTP
type MetricsServer struct {
	httpServer  *http.Server
	metrics     *metrics.Metrics
	diskManager *diskmanager.DiskManager
	logger      *zap.Logger
	interval    time.Duration
}

// MetricsServerConfig holds configuration for the metrics server
type MetricsServerConfig struct {
	Port int
	Path string

	// CollectInterval is how often system metrics are sampled
	CollectInterval time.Duration
}

// NewMetricsServer creates a new metrics server. diskMgr may be nil for an
// in-memory log unit.
func NewMetricsServer(
	cfg *MetricsServerConfig,
	gatherer prometheus.Gatherer,
	m *metrics.Metrics,
	checker *health.HealthChecker,
	diskMgr *diskmanager.DiskManager,
	logger *zap.Logger,
) *MetricsServer {
	mux := http.NewServeMux()

	interval := cfg.CollectInterval
	if interval == 0 {
		interval = 15 * time.Second
	}

	ms := &MetricsServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		metrics:     m,
		diskManager: diskMgr,
		logger:      logger,
		interval:    interval,
	}

	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", checker.LivenessHandler)
	mux.HandleFunc("/ready", checker.ReadinessHandler)

	return ms
}

// Handler returns the HTTP handler, for tests
func (s *MetricsServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Serve serves on lis and collects system metrics until ctx is done or the
// listener fails
func (s *MetricsServer) Serve(ctx context.Context, lis net.Listener) error {
	s.logger.Info("Starting metrics server", zap.String("addr", lis.Addr().String()))

	go s.collectSystemMetrics(ctx)

	if err := s.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured port and serves
func (s *MetricsServer) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, lis)
}

// Stop gracefully stops the metrics server
func (s *MetricsServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping metrics server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	return nil
}

// collectSystemMetrics periodically collects system-level metrics
func (s *MetricsServer) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.updateSystemMetrics()
	for {
		select {
		case <-ticker.C:
			s.updateSystemMetrics()
		case <-ctx.Done():
			return
		}
	}
}

// updateSystemMetrics updates system-level metrics
func (s *MetricsServer) updateSystemMetrics() {
	var diskUsed, diskAvailable int64
	if s.diskManager != nil {
		usage := s.diskManager.GetDiskUsage()
		diskUsed = int64(usage.UsedBytes)
		diskAvailable = int64(usage.AvailableBytes)
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s.metrics.UpdateSystemStats(diskUsed, diskAvailable, int64(memStats.Alloc), runtime.NumGoroutine())
}
