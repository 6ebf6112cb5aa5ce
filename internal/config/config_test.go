package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abstat/domain/experiment"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "observations", cfg.Warehouse.Table)
	assert.Empty(t, cfg.Warehouse.DSN, "warehouse is opt-in")

	assert.Equal(t, 0.05, cfg.Experiment.Alpha)
	assert.Equal(t, experiment.TwoTailed, cfg.Experiment.Tails)
	assert.Equal(t, experiment.StrategyHash, cfg.Experiment.Strategy)
	assert.Equal(t, experiment.MinPosteriorDraws, cfg.Experiment.PosteriorDraws)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALPHA", "0.01")
	t.Setenv("TAILS", "one_tailed")
	t.Setenv("BUCKETING_STRATEGY", "random")
	t.Setenv("BUCKETING_SEED", "42")
	t.Setenv("WAREHOUSE_DSN", "postgres://localhost/abstat")
	t.Setenv("READ_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 0.01, cfg.Experiment.Alpha)
	assert.Equal(t, experiment.OneTailed, cfg.Experiment.Tails)
	assert.Equal(t, experiment.StrategyRandom, cfg.Experiment.Strategy)
	assert.Equal(t, int64(42), cfg.Experiment.Seed)
	assert.Equal(t, "postgres://localhost/abstat", cfg.Warehouse.DSN)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Run("bad tails", func(t *testing.T) {
		t.Setenv("TAILS", "three_tailed")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "TAILS")
	})

	t.Run("bad strategy", func(t *testing.T) {
		t.Setenv("BUCKETING_STRATEGY", "roulette")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("alpha out of range", func(t *testing.T) {
		t.Setenv("ALPHA", "1.5")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ALPHA")
	})

	t.Run("draw budget too small", func(t *testing.T) {
		t.Setenv("POSTERIOR_DRAWS", "100")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("stopping threshold below a coin flip", func(t *testing.T) {
		t.Setenv("STOPPING_THRESHOLD", "0.4")
		_, err := Load()
		require.Error(t, err)
	})
}

func TestLoad_UnparseableValuesFallBack(t *testing.T) {
	t.Setenv("ALPHA", "not-a-number")
	t.Setenv("WAREHOUSE_MAX_CONNS", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.05, cfg.Experiment.Alpha)
	assert.Equal(t, 4, cfg.Warehouse.MaxConns)
}

func TestDefaults_MapsToDomain(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	defaults := cfg.Defaults()
	assert.Equal(t, experiment.StandardDefaults(), defaults)
}
