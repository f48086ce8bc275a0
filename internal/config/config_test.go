package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxcore/streamgraph/internal/config"
)

func TestDefaultBakesInExpectedValues(t *testing.T) {
	cfg := config.Default()

	require.Equal(t, "development", cfg.Server.Env)
	require.Equal(t, ":9090", cfg.Server.WebSocketAddr)
	require.Equal(t, 16, cfg.Links.DataCapacity)
	require.Equal(t, 3*time.Second, cfg.JoinTimeout())
	require.Equal(t, 250*time.Millisecond, cfg.BlockTimeout())
}

func TestDefaultAppliesEnvOverrides(t *testing.T) {
	t.Setenv("STREAMGRAPH_ENV", "production")
	t.Setenv("STREAMGRAPH_DATA_CAPACITY", "64")
	t.Setenv("STREAMGRAPH_CLOCK_RATE_HZ", "30.5")

	cfg := config.Default()

	require.Equal(t, "production", cfg.Server.Env)
	require.Equal(t, 64, cfg.Links.DataCapacity)
	require.Equal(t, 30.5, cfg.Clock.DefaultRateHz)
}

func TestEnvOverrideIgnoresUnparseableInt(t *testing.T) {
	t.Setenv("STREAMGRAPH_DATA_CAPACITY", "not-a-number")

	cfg := config.Default()

	require.Equal(t, 16, cfg.Links.DataCapacity)
}

func TestLoadReadsYAMLAndStillAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/graph.yaml"
	yamlDoc := []byte("server:\n  env: staging\nlinks:\n  data_capacity: 8\n")
	require.NoError(t, os.WriteFile(path, yamlDoc, 0o644))

	t.Setenv("STREAMGRAPH_WS_ADDR", ":7777")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, "staging", cfg.Server.Env)
	require.Equal(t, 8, cfg.Links.DataCapacity)
	require.Equal(t, ":7777", cfg.Server.WebSocketAddr)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := config.Load("/nonexistent/path/graph.yaml")
	require.Error(t, err)
}
