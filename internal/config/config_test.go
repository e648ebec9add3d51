package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/envgrade/internal/config"
)

func TestLoadMinimal(t *testing.T) {
	cfg, err := config.Load("../../testdata/minimal.yaml")
	require.NoError(t, err)

	assert.Equal(t, "/srv/envgrade/data", cfg.DataDir)
	assert.Equal(t, "/srv/envgrade/rubrics", cfg.RubricDir)
	assert.Equal(t, config.BackendCLI, cfg.Runtime.Backend)
	assert.Equal(t, "docker", cfg.Runtime.Binary)
	assert.Equal(t, time.Hour, cfg.Runtime.BuildTimeout)
	assert.Equal(t, 30*time.Second, cfg.Runtime.CheckTimeout)
	assert.Equal(t, "envgrade.run", cfg.Runtime.LabelKey)
	assert.Equal(t, config.LayoutAuto, cfg.Staging.Layout)
	assert.Equal(t, 8, cfg.Batch.Width)
	assert.True(t, cfg.Batch.PruneBetweenWaves)
}

func TestLoadFull(t *testing.T) {
	cfg, err := config.Load("../../testdata/full.yaml")
	require.NoError(t, err)

	assert.Equal(t, config.BackendEngine, cfg.Runtime.Backend)
	assert.Equal(t, 45*time.Minute, cfg.Runtime.BuildTimeout)
	assert.Equal(t, 20*time.Second, cfg.Runtime.CheckTimeout)
	assert.Equal(t, "envgrade.test", cfg.Runtime.LabelKey)
	assert.Equal(t, config.LayoutNested, cfg.Staging.Layout)
	assert.Equal(t, 4, cfg.Batch.Width)
	assert.False(t, cfg.Batch.PruneBetweenWaves)
	assert.Equal(t, "out/envgrade.prom", cfg.Metrics.Textfile)
}

func TestLoadMissing(t *testing.T) {
	_, err := config.Load("nonexistent.yaml")
	assert.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	_, err := config.Load("../../testdata/invalid.yaml")
	assert.Error(t, err)
}

func TestLoadUnknownBackend(t *testing.T) {
	_, err := config.Load("../../testdata/unknown-backend.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "podman-remote")
}

func TestLoadOrDefault(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "envgrade.yaml")

	cfg, err := config.LoadOrDefault(missing, false)
	require.NoError(t, err)
	assert.Equal(t, "data", cfg.DataDir)

	_, err = config.LoadOrDefault(missing, true)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("ENVGRADE_DATA_DIR", "/tmp/src")
	t.Setenv("ENVGRADE_BACKEND", "engine")
	t.Setenv("ENVGRADE_CHECK_TIMEOUT", "5s")

	cfg := config.Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, "/tmp/src", cfg.DataDir)
	assert.Equal(t, config.BackendEngine, cfg.Runtime.Backend)
	assert.Equal(t, 5*time.Second, cfg.Runtime.CheckTimeout)

	t.Setenv("ENVGRADE_BACKEND", "lxc")
	assert.Error(t, cfg.ApplyEnv())
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("ENVGRADE_RUBRIC_DIR=/from/dotenv\n"), 0o644))
	t.Setenv("ENVGRADE_RUBRIC_DIR", "")
	os.Unsetenv("ENVGRADE_RUBRIC_DIR")

	require.NoError(t, config.LoadEnvFile(path, true))
	assert.Equal(t, "/from/dotenv", os.Getenv("ENVGRADE_RUBRIC_DIR"))

	assert.NoError(t, config.LoadEnvFile(filepath.Join(dir, "missing.env"), false))
	assert.Error(t, config.LoadEnvFile(filepath.Join(dir, "missing.env"), true))
}
