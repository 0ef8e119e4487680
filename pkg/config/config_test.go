package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Pool.Size)
	assert.Equal(t, "rouge-l", cfg.Novelty.Variant)
	assert.Equal(t, "r", cfg.Novelty.Metric)
	assert.InDelta(t, 0.7, cfg.Novelty.Threshold, 1e-9)
	assert.Equal(t, 100, cfg.Curate.MaxLength)
	assert.Equal(t, 10, cfg.Judge.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Judge.InitialDelay)
	assert.Equal(t, 42, cfg.LLM.Seed)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "curator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pool:
  size: 2
  thresholds:
    quality: 5
judge:
  maxDelay: 1s
curate:
  textKey: text
`), 0o644))

	t.Setenv("CURATOR_POOL_SIZE", "4")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Pool.Size)
	assert.Equal(t, "text", cfg.Curate.TextKey)
	assert.Equal(t, time.Second, cfg.Judge.MaxDelay)
	assert.InDelta(t, 5, cfg.Pool.Thresholds["quality"], 1e-9)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadAPIKeyFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CURATOR_LLM_APIKEY=sk-test\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CURATOR_LLM_APIKEY") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}
