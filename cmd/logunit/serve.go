package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrev/pairdb/logunit/internal/config"
	"github.com/devrev/pairdb/logunit/internal/handler"
	"github.com/devrev/pairdb/logunit/internal/health"
	"github.com/devrev/pairdb/logunit/internal/metrics"
	"github.com/devrev/pairdb/logunit/internal/server"
	"github.com/devrev/pairdb/logunit/internal/service"
	"github.com/devrev/pairdb/logunit/internal/storage/diskmanager"
	"github.com/devrev/pairdb/logunit/internal/storage/streamlog"
	pb "github.com/devrev/pairdb/logunit/pkg/proto"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthCheckInterval = 10 * time.Second

func Serve(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Recover the stream log and serve it over gRPC",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			if configPath == "" {
				configPath = os.Getenv("CONFIG_PATH")
			}
			if configPath == "" {
				configPath = "./config.yaml"
			}

			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, logger); err != nil {
				logger.Error("Log unit stopped with error", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to the YAML configuration (defaults to $CONFIG_PATH, then ./config.yaml)")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("address", cfg.Server.Address()),
		zap.Bool("in_memory", cfg.Storage.InMemory),
		zap.String("data_dir", cfg.Storage.DataDir))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg, cfg.Server.NodeID)

	var diskMgr *diskmanager.DiskManager
	dataDir := ""
	if !cfg.Storage.InMemory {
		dataDir = cfg.Storage.DataDir
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		var err error
		diskMgr, err = diskmanager.NewDiskManager(&diskmanager.DiskManagerConfig{
			DataDir:                 dataDir,
			CheckInterval:           cfg.Disk.CheckInterval,
			WarningThreshold:        cfg.Disk.WarningThreshold,
			ThrottleThreshold:       cfg.Disk.ThrottleThreshold,
			CircuitBreakerThreshold: cfg.Disk.CircuitBreakerThreshold,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize disk manager: %w", err)
		}
	}

	grpcHealth := grpchealth.NewServer()
	checker := health.NewHealthChecker(&health.HealthCheckConfig{
		NodeID:      cfg.Server.NodeID,
		DataDir:     dataDir,
		ServiceName: pb.ServiceName,
	}, diskMgr, grpcHealth, logger)

	g, gctx := errgroup.WithContext(ctx)

	// Probes are served while recovery runs, reporting not ready.
	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = server.NewMetricsServer(&server.MetricsServerConfig{
			Port: cfg.Metrics.Port,
			Path: cfg.Metrics.Path,
		}, reg, m, checker, diskMgr, logger)
		g.Go(func() error {
			return metricsServer.ListenAndServe(gctx)
		})
	}

	// abort stops the probe server when startup fails after it began serving
	abort := func(err error) error {
		if metricsServer != nil {
			_ = metricsServer.Stop(context.Background())
		}
		_ = g.Wait()
		return err
	}

	store, err := openStore(cfg, logger, m)
	if err != nil {
		return abort(err)
	}

	cache, err := service.NewCacheService(&service.CacheConfig{HeapRatio: cfg.Cache.HeapRatio}, logger, m)
	if err != nil {
		store.Close()
		return abort(err)
	}
	logUnit := service.NewLogUnitService(store, cache, diskMgr, m, logger)

	maxMessage, err := cfg.Server.MaxMessageBytes()
	if err != nil {
		logUnit.Close()
		return abort(err)
	}
	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMessage),
		grpc.MaxSendMsgSize(maxMessage),
		grpc.MaxConcurrentStreams(uint32(cfg.Server.MaxConnections)),
	)
	pb.RegisterLogUnitServer(grpcServer, handler.NewLogUnitHandler(logUnit, logger))
	healthpb.RegisterHealthServer(grpcServer, grpcHealth)

	listener, err := net.Listen("tcp", cfg.Server.Address())
	if err != nil {
		logUnit.Close()
		return abort(fmt.Errorf("failed to listen on %s: %w", cfg.Server.Address(), err))
	}

	g.Go(func() error {
		logger.Info("Log unit service starting",
			zap.String("node_id", cfg.Server.NodeID),
			zap.String("address", listener.Addr().String()),
			zap.String("cache_capacity", humanize.IBytes(uint64(cache.Capacity()))))
		if err := grpcServer.Serve(listener); err != nil {
			return fmt.Errorf("gRPC server failed: %w", err)
		}
		return nil
	})

	checker.SetLogUnit(logUnit)
	g.Go(func() error {
		checker.Start(gctx, healthCheckInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")
		checker.Drain()
		shutdown(grpcServer, cfg.Server.ShutdownTimeout, logger)

		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if metricsServer != nil {
			if err := metricsServer.Stop(stopCtx); err != nil {
				logger.Warn("Metrics server shutdown failed", zap.Error(err))
			}
		}
		return logUnit.Close()
	})

	return g.Wait()
}

// openStore recovers the file-backed stream log, or creates an in-memory one
func openStore(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (streamlog.StreamLog, error) {
	if cfg.Storage.InMemory {
		logger.Warn("Running with an in-memory stream log; nothing survives a restart")
		return streamlog.NewMemoryLog(logger), nil
	}

	segmentSize, err := cfg.Storage.SegmentSizeBytes()
	if err != nil {
		return nil, err
	}
	return streamlog.Open(cfg.Storage.DataDir, &streamlog.Config{
		SegmentSize:     segmentSize,
		VerifyChecksums: cfg.Storage.Verify(),
		SyncWrites:      !cfg.Storage.DisableSync,
	}, logger, m)
}

// shutdown drains in-flight RPCs, forcing the stop after timeout
func shutdown(grpcServer *grpc.Server, timeout time.Duration, logger *zap.Logger) {
	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("Graceful stop timed out, closing open connections", zap.Duration("timeout", timeout))
		grpcServer.Stop()
		<-done
	}
}
