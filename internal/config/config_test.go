package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.AI.Profiles = []AIProfile{
		{ID: "backup", Provider: "openai", APIKey: "k2", Priority: 5},
		{ID: "main", Provider: "anthropic", APIKey: "k1", Priority: 1},
	}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "no profiles",
			mutate:  func(c *Config) { c.AI.Profiles = nil },
			wantErr: "at least one AI profile",
		},
		{
			name:    "bad provider",
			mutate:  func(c *Config) { c.AI.Profiles[0].Provider = "bard" },
			wantErr: "invalid provider",
		},
		{
			name:    "duplicate profile",
			mutate:  func(c *Config) { c.AI.Profiles[1].ID = "backup" },
			wantErr: "duplicate ID",
		},
		{
			name:    "unknown selected profile",
			mutate:  func(c *Config) { c.Agent.Profile = "nope" },
			wantErr: "not found",
		},
		{
			name:    "zero step budget",
			mutate:  func(c *Config) { c.Agent.MaxSteps = 0 },
			wantErr: "max_steps",
		},
		{
			name: "remote enabled without endpoint",
			mutate: func(c *Config) {
				c.Remote.Experimental = true
				c.Remote.Endpoint = ""
			},
			wantErr: "remote endpoint",
		},
		{
			name:    "schedule missing expr",
			mutate:  func(c *Config) { c.Schedules = []ScheduleConfig{{ID: "a", Task: "t"}} },
			wantErr: "schedule 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProfile(t *testing.T) {
	t.Run("lowest priority wins", func(t *testing.T) {
		p, err := validConfig().Profile()
		require.NoError(t, err)
		assert.Equal(t, "main", p.ID)
	})

	t.Run("explicit selection", func(t *testing.T) {
		cfg := validConfig()
		cfg.Agent.Profile = "backup"
		p, err := cfg.Profile()
		require.NoError(t, err)
		assert.Equal(t, "openai", p.Provider)
	})
}

func TestFlags(t *testing.T) {
	cfg := DefaultConfig()
	f := NewFlags(cfg)
	assert.False(t, f.RemoteDisplayEnabled())
	assert.Equal(t, 500*time.Millisecond, f.Settle())
	assert.Equal(t, 150*time.Millisecond, f.OverlaySettle())

	cfg.Remote.Experimental = true
	cfg.Dispatch.SettleMS = 0
	f.Apply(cfg)
	assert.True(t, f.RemoteDisplayEnabled())
	assert.Zero(t, f.Settle())
}
