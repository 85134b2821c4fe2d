package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/devrev/pairdb/logunit/internal/model"
	"github.com/devrev/pairdb/logunit/internal/storage/diskmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const testService = "pairdb.logunit.v1.LogUnit"

type fakeLogUnit struct {
	available bool
	err       error
}

func (f *fakeLogUnit) Available() bool { return f.available }
func (f *fakeLogUnit) Err() error      { return f.err }

func servingStatus(t *testing.T, hs *grpchealth.Server) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: testService})
	require.NoError(t, err)
	return resp.Status
}

func newChecker(t *testing.T, usage diskmanager.FilesystemUsage) (*HealthChecker, *grpchealth.Server) {
	t.Helper()
	dir := t.TempDir()
	cfg := diskmanager.DefaultConfig(dir)
	cfg.CheckInterval = time.Nanosecond
	cfg.Stat = func(string) (diskmanager.FilesystemUsage, error) { return usage, nil }
	dm, err := diskmanager.NewDiskManager(cfg, zap.NewNop())
	require.NoError(t, err)

	hs := grpchealth.NewServer()
	h := NewHealthChecker(&HealthCheckConfig{NodeID: "n1", DataDir: dir, ServiceName: testService}, dm, hs, zap.NewNop())
	return h, hs
}

var healthyDisk = diskmanager.FilesystemUsage{TotalBytes: 1000, AvailableBytes: 800}

func TestHealthChecker_NotServingUntilRecovered(t *testing.T) {
	h, hs := newChecker(t, healthyDisk)

	assert.False(t, h.IsReady())
	assert.True(t, h.IsLive())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(t, hs))
	h.RunChecks()
	assert.Equal(t, model.NodeStatusStarting, h.GetStatus().Status)

	h.SetLogUnit(&fakeLogUnit{available: true})
	assert.True(t, h.IsReady())
	// Host memory or descriptor pressure may degrade, never fail, the node.
	assert.Contains(t, []model.NodeStatus{model.NodeStatusHealthy, model.NodeStatusDegraded}, h.GetStatus().Status)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, servingStatus(t, hs))
}

func TestHealthChecker_FailedLogUnit(t *testing.T) {
	h, hs := newChecker(t, healthyDisk)
	lu := &fakeLogUnit{available: true}
	h.SetLogUnit(lu)
	require.True(t, h.IsReady())

	lu.available = false
	lu.err = errors.New("append failed")
	h.RunChecks()

	assert.False(t, h.IsReady())
	assert.Equal(t, model.NodeStatusUnhealthy, h.GetStatus().Status)
	assert.Equal(t, StatusCritical, h.GetChecks()["log_unit"].Status)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(t, hs))
}

func TestHealthChecker_DiskStates(t *testing.T) {
	h, _ := newChecker(t, diskmanager.FilesystemUsage{TotalBytes: 1000, AvailableBytes: 80})
	h.SetLogUnit(&fakeLogUnit{available: true})
	assert.True(t, h.IsReady())
	assert.Equal(t, StatusWarning, h.GetChecks()["disk_space"].Status)

	h, _ = newChecker(t, diskmanager.FilesystemUsage{TotalBytes: 1000, AvailableBytes: 10})
	h.SetLogUnit(&fakeLogUnit{available: true})
	assert.False(t, h.IsReady())
	assert.Equal(t, StatusCritical, h.GetChecks()["disk_space"].Status)
}

func TestHealthChecker_Drain(t *testing.T) {
	h, hs := newChecker(t, healthyDisk)
	h.SetLogUnit(&fakeLogUnit{available: true})
	h.Drain()
	assert.False(t, h.IsReady())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(t, hs))

	h.RunChecks()
	assert.False(t, h.IsReady())
}

func TestHealthChecker_Handlers(t *testing.T) {
	h, _ := newChecker(t, healthyDisk)

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.SetLogUnit(&fakeLogUnit{available: true})
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ready"])

	rec = httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthChecker_InMemory(t *testing.T) {
	hs := grpchealth.NewServer()
	h := NewHealthChecker(&HealthCheckConfig{NodeID: "n1", ServiceName: testService}, nil, hs, zap.NewNop())
	h.SetLogUnit(&fakeLogUnit{available: true})
	assert.True(t, h.IsReady())
	assert.Equal(t, StatusHealthy, h.GetChecks()["data_dir_accessible"].Status)
}
