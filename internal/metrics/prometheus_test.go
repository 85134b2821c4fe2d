package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordWriteRequest("WRITE_OK", 0.1, 10)
		m.RecordReadRequest("DATA", 0.1)
		m.RecordTrimRequest()
		m.RecordCacheHit()
		m.RecordCacheMiss()
		m.RecordCacheEviction()
		m.UpdateCacheSize(1, 1)
		m.SetCacheCapacity(1)
		m.UpdateStreamLogStats(1, 1, 1)
		m.RecordStreamLogAppend(0.1)
		m.RecordStreamLogSync(0.1)
		m.RecordRecovery(0.1)
		m.RecordTornTail()
		m.UpdateSystemStats(1, 1, 1, 1)
	})
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "n1")

	m.RecordWriteRequest("WRITE_OK", 0.01, 100)
	m.RecordWriteRequest("ERROR_OVERWRITE", 0.01, 100)
	m.RecordWriteRequest("WRITE_OK", 0.01, 100)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WriteRequestsTotal.WithLabelValues("WRITE_OK")))

	m.UpdateSystemStats(25, 75, 0, 3)
	assert.Equal(t, 25.0, testutil.ToFloat64(m.DiskUsagePercent))

	m.RecordTornTail()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamLogTruncatedTotal))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	// a second registration on the same registry must fail loudly
	assert.Panics(t, func() { NewMetrics(reg, "n1") })
}
