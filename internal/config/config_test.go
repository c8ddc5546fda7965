package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10, cfg.Engine.MaxIterations)
	assert.Equal(t, 3, cfg.Memory.ShortTermTurns)
	assert.False(t, cfg.Engine.TrustMode)
	assert.Equal(t, "http://localhost:9200", cfg.Sources.Elasticsearch.BaseURL)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Engine.MaxIterations, cfg.Engine.MaxIterations)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "helmsman.yaml")
	data := []byte(`
engine:
  max_iterations: 5
  trust_mode: true
memory:
  short_term_turns: 7
sources:
  elasticsearch:
    enabled: true
    base_url: http://es.internal:9200
    index: orders
    timeout: 10s
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Engine.MaxIterations)
	assert.True(t, cfg.Engine.TrustMode)
	assert.Equal(t, 7, cfg.Memory.ShortTermTurns)
	assert.Equal(t, "orders", cfg.Sources.Elasticsearch.Index)
	assert.Equal(t, 10*time.Second, cfg.Sources.Elasticsearch.GetBackendTimeout())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "helmsman.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  max_iterations: 0\n"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HELMSMAN_ES_URL", "http://override:9200")
	t.Setenv("HELMSMAN_TRUST_MODE", "true")
	t.Setenv("HELMSMAN_DB", "/tmp/x.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://override:9200", cfg.Sources.Elasticsearch.BaseURL)
	assert.True(t, cfg.Engine.TrustMode)
	assert.Equal(t, "/tmp/x.db", cfg.Engine.CheckpointPath)
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Timeout = "garbage"
	cfg.Memory.LongTermBackoff = "garbage"
	assert.Equal(t, 60*time.Second, cfg.GetLLMTimeout())
	assert.Equal(t, 250*time.Millisecond, cfg.GetLongTermBackoff())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "helmsman.yaml")
	cfg := DefaultConfig()
	cfg.Engine.MaxIterations = 4
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Engine.MaxIterations)
}
