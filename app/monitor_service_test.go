package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abstat/adapters/frequentist"
	"abstat/domain/experiment"
)

func monitorConfig(t *testing.T, maxN int) experiment.TestConfig {
	t.Helper()
	cfg, err := experiment.NewTestConfig(experiment.TestFrequentist, experiment.MetricBinary, experiment.StandardDefaults())
	require.NoError(t, err)
	cfg.Sequential = true
	cfg.MaxSampleSize = maxN
	return cfg
}

func TestNewMonitorService_Validation(t *testing.T) {
	engine := frequentist.NewEngine()

	_, err := NewMonitorService(engine, experiment.GroupControl, monitorConfig(t, 1000))
	require.Error(t, err, "control cannot be monitored against itself")

	cfg := monitorConfig(t, 1000)
	cfg.Sequential = false
	_, err = NewMonitorService(engine, "treatment", cfg)
	require.Error(t, err, "monitoring needs a sequential configuration")
}

func TestObserve_StopsOnStrongTrend(t *testing.T) {
	monitor, err := NewMonitorService(frequentist.NewEngine(), "treatment", monitorConfig(t, 4000))
	require.NoError(t, err)

	batch := append(
		binaryObservations("control", 100, 1000),
		binaryObservations("treatment", 200, 1000)...,
	)

	outcome, err := monitor.Observe(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusStopSignificant, outcome.Status)
	assert.Equal(t, "treatment", outcome.Result.Name)
	assert.Equal(t, 1, outcome.Result.LookIndex)
	assert.True(t, monitor.Status().Terminal())

	// Terminal runs reject further batches.
	_, err = monitor.Observe(context.Background(), batch)
	require.Error(t, err)
}

func TestObserve_AccumulatesAcrossBatches(t *testing.T) {
	cfg := monitorConfig(t, 40000)
	cfg.FutilityThreshold = 0
	monitor, err := NewMonitorService(frequentist.NewEngine(), "treatment", cfg)
	require.NoError(t, err)

	for look := 1; look <= 3; look++ {
		batch := append(
			binaryObservations("control", 50, 500),
			binaryObservations("treatment", 52, 500)...,
		)
		outcome, err := monitor.Observe(context.Background(), batch)
		require.NoError(t, err, "look %d", look)
		assert.Equal(t, experiment.StatusAccumulating, outcome.Status)
		assert.Equal(t, look, outcome.Result.LookIndex)
		assert.Equal(t, 1000*look, monitor.SampleSize())
	}

	trace := monitor.Trace()
	assert.Len(t, trace.Looks, 3)
	assert.Equal(t, experiment.StatusAccumulating, trace.Status)
}

func TestObserve_RejectsBadBatches(t *testing.T) {
	monitor, err := NewMonitorService(frequentist.NewEngine(), "treatment", monitorConfig(t, 4000))
	require.NoError(t, err)

	_, err = monitor.Observe(context.Background(), nil)
	require.Error(t, err, "empty batch")

	foreign := binaryObservations("other_arm", 10, 100)
	_, err = monitor.Observe(context.Background(), foreign)
	require.Error(t, err, "foreign group")
	assert.Contains(t, err.Error(), "other_arm")

	// Rejected batches must not pollute the accumulated records.
	assert.Equal(t, 0, monitor.SampleSize())
}

func TestObserve_NeedsBothArms(t *testing.T) {
	monitor, err := NewMonitorService(frequentist.NewEngine(), "treatment", monitorConfig(t, 4000))
	require.NoError(t, err)

	_, err = monitor.Observe(context.Background(), binaryObservations("treatment", 10, 100))
	require.Error(t, err, "a look needs control data")
}
