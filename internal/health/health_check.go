package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devrev/pairdb/logunit/internal/model"
	"github.com/devrev/pairdb/logunit/internal/storage/diskmanager"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/procfs"
	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// LogUnit is the part of the log unit service the health checker watches
type LogUnit interface {
	Available() bool
	Err() error
}

// HealthChecker performs health checks for the log unit and publishes the
// result to the HTTP probes and the gRPC health service
type HealthChecker struct {
	nodeID      string
	dataDir     string
	serviceName string
	logger      *zap.Logger
	diskManager *diskmanager.DiskManager
	grpcHealth  *grpchealth.Server

	mu          sync.RWMutex
	logUnit     LogUnit
	lastCheck   time.Time
	status      model.NodeStatus
	metrics     model.HealthMetrics
	checks      map[string]CheckResult
	livenessOK  bool
	readinessOK bool
	draining    bool
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string
	Status    string
	Message   string
	Timestamp time.Time
}

// HealthCheckConfig holds configuration for health checks
type HealthCheckConfig struct {
	NodeID string

	// DataDir is empty for an in-memory log unit
	DataDir string

	// ServiceName is the gRPC service whose serving status is published
	ServiceName string
}

// NewHealthChecker creates a new health checker. It reports not ready until
// a log unit is attached with SetLogUnit.
func NewHealthChecker(cfg *HealthCheckConfig, diskMgr *diskmanager.DiskManager, grpcHealth *grpchealth.Server, logger *zap.Logger) *HealthChecker {
	h := &HealthChecker{
		nodeID:      cfg.NodeID,
		dataDir:     cfg.DataDir,
		serviceName: cfg.ServiceName,
		logger:      logger,
		diskManager: diskMgr,
		grpcHealth:  grpcHealth,
		checks:      make(map[string]CheckResult),
		livenessOK:  true,
		status:      model.NodeStatusStarting,
	}
	h.publish()
	return h
}

// SetLogUnit attaches the recovered log unit and runs a check immediately
func (h *HealthChecker) SetLogUnit(lu LogUnit) {
	h.mu.Lock()
	h.logUnit = lu
	h.mu.Unlock()
	h.RunChecks()
}

// Start runs health checks every interval until ctx is done
func (h *HealthChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.RunChecks()

	for {
		select {
		case <-ticker.C:
			h.RunChecks()
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// RunChecks runs all health checks and publishes the outcome
func (h *HealthChecker) RunChecks() {
	h.mu.Lock()

	h.lastCheck = time.Now()

	checks := []func() CheckResult{
		h.checkLogUnit,
		h.checkDiskSpace,
		h.checkDataDirAccessible,
		h.checkFileDescriptors,
		h.checkMemoryPressure,
	}

	allHealthy := true
	allReady := true

	for _, check := range checks {
		result := check()
		h.checks[result.Name] = result

		if result.Status != StatusHealthy {
			allHealthy = false
			if result.Status == StatusCritical {
				allReady = false
			}
		}
	}

	switch {
	case h.logUnit == nil:
		h.status = model.NodeStatusStarting
	case !allReady:
		h.status = model.NodeStatusUnhealthy
	case !allHealthy:
		h.status = model.NodeStatusDegraded
	default:
		h.status = model.NodeStatusHealthy
	}

	h.livenessOK = true
	h.readinessOK = allReady && !h.draining

	h.logger.Debug("Health check completed",
		zap.String("status", string(h.status)),
		zap.Bool("liveness", h.livenessOK),
		zap.Bool("readiness", h.readinessOK))

	h.mu.Unlock()
	h.publish()
}

// publish mirrors readiness into the gRPC health service
func (h *HealthChecker) publish() {
	if h.grpcHealth == nil {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if h.IsReady() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.grpcHealth.SetServingStatus("", status)
	if h.serviceName != "" {
		h.grpcHealth.SetServingStatus(h.serviceName, status)
	}
}

// checkLogUnit reports whether recovery finished and writes are accepted
func (h *HealthChecker) checkLogUnit() CheckResult {
	result := CheckResult{Name: "log_unit", Timestamp: time.Now()}
	switch {
	case h.logUnit == nil:
		result.Status = StatusCritical
		result.Message = "Stream log recovery has not completed"
	case h.logUnit.Err() != nil:
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("Log unit failed: %v", h.logUnit.Err())
	case !h.logUnit.Available():
		result.Status = StatusCritical
		result.Message = "Log unit is shut down"
	default:
		result.Status = StatusHealthy
		result.Message = "Log unit is serving"
	}
	return result
}

// checkDiskSpace checks if disk space is sufficient
func (h *HealthChecker) checkDiskSpace() CheckResult {
	result := CheckResult{Name: "disk_space", Timestamp: time.Now()}
	if h.diskManager == nil {
		result.Status = StatusHealthy
		result.Message = "Log unit is in memory"
		return result
	}

	usage := h.diskManager.GetDiskUsage()
	h.metrics.DiskUsage = usage.UsagePercent
	available := humanize.IBytes(usage.AvailableBytes)

	switch {
	case usage.IsCircuitBroken:
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("Disk usage critical: %.2f%%, available: %s", usage.UsagePercent, available)
	case usage.IsThrottled:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Disk usage high: %.2f%%, available: %s", usage.UsagePercent, available)
	default:
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("Disk usage: %.2f%%, available: %s", usage.UsagePercent, available)
	}
	return result
}

// checkDataDirAccessible checks if the data directory is writable
func (h *HealthChecker) checkDataDirAccessible() CheckResult {
	result := CheckResult{Name: "data_dir_accessible", Timestamp: time.Now()}
	if h.dataDir == "" {
		result.Status = StatusHealthy
		result.Message = "Log unit is in memory"
		return result
	}

	info, err := os.Stat(h.dataDir)
	if err != nil {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("Data directory not accessible: %v", err)
		return result
	}
	if !info.IsDir() {
		result.Status = StatusCritical
		result.Message = "Data path is not a directory"
		return result
	}

	testFile := filepath.Join(h.dataDir, fmt.Sprintf(".health_check_%d", time.Now().UnixNano()))
	f, err := os.Create(testFile)
	if err != nil {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("Cannot write to data directory: %v", err)
		return result
	}
	f.Close()
	os.Remove(testFile)

	result.Status = StatusHealthy
	result.Message = "Data directory is accessible and writable"
	return result
}

// checkFileDescriptors checks open file descriptors against the soft limit
func (h *HealthChecker) checkFileDescriptors() CheckResult {
	result := CheckResult{Name: "file_descriptors", Timestamp: time.Now()}

	proc, err := procfs.Self()
	if err != nil {
		// No procfs (e.g. macOS).
		result.Status = StatusHealthy
		result.Message = "File descriptor check not available on this platform"
		return result
	}
	open, err := proc.FileDescriptorsLen()
	if err != nil {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Failed to count file descriptors: %v", err)
		return result
	}
	limits, err := proc.Limits()
	if err != nil || limits.OpenFiles == 0 {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Failed to read open file limit: %v", err)
		return result
	}

	h.metrics.OpenFiles = uint64(open)
	usagePercent := float64(open) / float64(limits.OpenFiles) * 100
	result.Status = StatusHealthy
	if usagePercent > 90 {
		result.Status = StatusWarning
	}
	result.Message = fmt.Sprintf("File descriptor usage: %.2f%% (%d/%d)", usagePercent, open, limits.OpenFiles)
	return result
}

// checkMemoryPressure checks available system memory
func (h *HealthChecker) checkMemoryPressure() CheckResult {
	result := CheckResult{Name: "memory_pressure", Timestamp: time.Now()}

	fs, err := procfs.NewDefaultFS()
	if err == nil {
		var info procfs.Meminfo
		if info, err = fs.Meminfo(); err == nil && info.MemTotal != nil && info.MemAvailable != nil && *info.MemTotal > 0 {
			usedPercent := float64(*info.MemTotal-*info.MemAvailable) / float64(*info.MemTotal) * 100
			h.metrics.MemoryUsage = usedPercent
			result.Status = StatusHealthy
			if usedPercent > 95 {
				result.Status = StatusWarning
			}
			result.Message = fmt.Sprintf("Memory usage: %.2f%%, available: %s", usedPercent, humanize.IBytes(*info.MemAvailable*1024))
			return result
		}
	}

	result.Status = StatusHealthy
	result.Message = "Memory check not available on this platform"
	return result
}

// IsLive returns whether the node is live (liveness probe)
func (h *HealthChecker) IsLive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.livenessOK
}

// IsReady returns whether the node is ready (readiness probe)
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK
}

// GetStatus returns the current health status
func (h *HealthChecker) GetStatus() model.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return model.HealthStatus{
		NodeID:    h.nodeID,
		Status:    h.status,
		Timestamp: h.lastCheck.Unix(),
		Metrics:   h.metrics,
	}
}

// GetChecks returns all check results
func (h *HealthChecker) GetChecks() map[string]CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make(map[string]CheckResult, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	return checks
}

// Drain marks the node not ready ahead of a graceful shutdown
func (h *HealthChecker) Drain() {
	h.mu.Lock()
	h.draining = true
	h.readinessOK = false
	h.mu.Unlock()
	h.publish()
}

// LivenessHandler handles HTTP liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	live := h.IsLive()
	status := h.GetStatus()

	w.Header().Set("Content-Type", "application/json")
	if !live {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"healthy": live,
		"status":  status.Status,
	})
}

// ReadinessHandler handles HTTP readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := h.IsReady()
	status := h.GetStatus()

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	failing := make(map[string]string)
	for name, check := range h.GetChecks() {
		if check.Status != StatusHealthy {
			failing[name] = check.Message
		}
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"ready":  ready,
		"status": status.Status,
		"checks": failing,
	})
}
