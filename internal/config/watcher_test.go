package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phonepilot.json")
	write := func(body string) {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
	write(`{"ai": {"profiles": [{"id": "m", "provider": "anthropic", "api_key": "k"}]}}`)

	flags := NewFlags(DefaultConfig())
	changed := make(chan *Config, 4)
	w, err := NewWatcher(NewLoader(path), zerolog.Nop(), func(cfg *Config) {
		flags.Apply(cfg)
		changed <- cfg
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	write(`{"ai": {"profiles": [{"id": "m", "provider": "anthropic", "api_key": "k"}]}, "remote": {"experimental": true}}`)

	select {
	case cfg := <-changed:
		assert.True(t, cfg.Remote.Experimental)
		assert.True(t, flags.RemoteDisplayEnabled())
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}

func TestWatcherIgnoresInvalidChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phonepilot.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	called := make(chan struct{}, 1)
	w, err := NewWatcher(NewLoader(path), zerolog.Nop(), func(*Config) { called <- struct{}{} })
	require.NoError(t, err)
	require.NoError(t, w.Start())

	// Valid JSON, but no AI profile: fails Validate.
	require.NoError(t, os.WriteFile(path, []byte(`{"agent": {"max_steps": 3}}`), 0o600))

	select {
	case <-called:
		t.Fatal("invalid config must not be applied")
	case <-time.After(600 * time.Millisecond):
	}
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
