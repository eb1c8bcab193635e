package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		dir := t.TempDir()
		cfg, err := NewLoader(filepath.Join(dir, "phonepilot.json")).Load()

		require.NoError(t, err)
		assert.Equal(t, 20, cfg.Agent.MaxSteps)
		assert.Equal(t, 500, cfg.Dispatch.SettleMS)
		assert.Equal(t, dir, cfg.DataDir)
		assert.Equal(t, filepath.Join(dir, "phonepilot.log"), cfg.Logging.File)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "phonepilot.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"ai": {"profiles": [{"id": "main", "provider": "anthropic", "api_key": "k"}]},
			"agent": {"max_steps": 7},
			"remote": {"experimental": true, "width": 720}
		}`), 0o600))

		cfg, err := NewLoader(path).Load()

		require.NoError(t, err)
		require.Len(t, cfg.AI.Profiles, 1)
		assert.Equal(t, "main", cfg.AI.Profiles[0].ID)
		assert.Equal(t, 7, cfg.Agent.MaxSteps)
		assert.True(t, cfg.Remote.Experimental)
		assert.Equal(t, 720, cfg.Remote.Width)
		assert.Equal(t, 2400, cfg.Remote.Height)
		assert.Equal(t, "claude-sonnet-4-5", cfg.Agent.Model)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "phonepilot.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"device": {"serial": "from-file"}}`), 0o600))
		t.Setenv("PHONEPILOT_DEVICE_SERIAL", "from-env")

		cfg, err := NewLoader(path).Load()

		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.Device.Serial)
	})

	t.Run("schema violations are rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "phonepilot.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"agent": {"max_steps": 0}, "ai": {"profiles": [{"id": "x", "provider": "bard"}]}}`), 0o600))

		_, err := NewLoader(path).Load()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid config")
		assert.Contains(t, err.Error(), "max_steps")
	})
}

func TestLoaderSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "phonepilot.json")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.Agent.MaxSteps = 42
	cfg.AI.Profiles = []AIProfile{{ID: "p", Provider: "openai", APIKey: "k"}}
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Agent.MaxSteps)
	assert.Equal(t, "openai", loaded.AI.Profiles[0].Provider)
}

func TestValidateSchema(t *testing.T) {
	assert.NoError(t, ValidateSchema([]byte(DefaultConfig().String())))
	assert.Error(t, ValidateSchema([]byte(`{"control": {"port": 70000}}`)))
	assert.Error(t, ValidateSchema([]byte(`{"schedules": [{"id": "a"}]}`)))
}
