package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollectorEnabled(t *testing.T) {
	c, err := NewCollector(Config{Enabled: true, Port: 9099, Namespace: "test_cloudtiering"})
	require.NoError(t, err)
	require.NotNil(t, c.registry)
}

func TestNewCollectorDisabledIsNoOp(t *testing.T) {
	c, err := NewCollector(Config{Enabled: false})
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		c.SetQueueDepth("primary_demote", 3)
		c.RecordMigration("demote", "success", time.Millisecond)
		c.RecordScan(time.Second, 5)
		c.RecordWorkerFailure("demotion", "file_op_failed")
		c.RecordObjectStoreRetry("upload")
	})
}

func TestRecordMigrationIncrementsCounter(t *testing.T) {
	c, err := NewCollector(Config{Enabled: true, Namespace: "test_cloudtiering_migration"})
	require.NoError(t, err)

	c.RecordMigration("demote", "success", 50*time.Millisecond)
	metric, err := c.MigrationsTotal.GetMetricWithLabelValues("demote", "success")
	require.NoError(t, err)

	var m dto.Metric
	require.NoError(t, metric.Write(&m))
	assert.Equal(t, float64(1), m.GetCounter().GetValue())
}

func TestSetQueueDepthReflectsLatestValue(t *testing.T) {
	c, err := NewCollector(Config{Enabled: true, Namespace: "test_cloudtiering_depth"})
	require.NoError(t, err)

	c.SetQueueDepth("primary_promote", 7)
	gauge, err := c.QueueDepth.GetMetricWithLabelValues("primary_promote")
	require.NoError(t, err)

	var m dto.Metric
	require.NoError(t, gauge.Write(&m))
	assert.Equal(t, float64(7), m.GetGauge().GetValue())
}
