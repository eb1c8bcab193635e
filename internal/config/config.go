package config

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Config is the on-disk phonepilot configuration.
type Config struct {
	AI        AIConfig         `json:"ai" mapstructure:"ai"`
	Agent     AgentConfig      `json:"agent" mapstructure:"agent"`
	Device    DeviceConfig     `json:"device" mapstructure:"device"`
	Remote    RemoteConfig     `json:"remote" mapstructure:"remote"`
	Dispatch  DispatchConfig   `json:"dispatch" mapstructure:"dispatch"`
	Control   ControlConfig    `json:"control" mapstructure:"control"`
	Logging   LoggingConfig    `json:"logging" mapstructure:"logging"`
	Schedules []ScheduleConfig `json:"schedules" mapstructure:"schedules"`
	DataDir   string           `json:"data_dir" mapstructure:"data_dir"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai, gemini
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url,omitempty" mapstructure:"base_url"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// AgentConfig controls the observe/act loop.
type AgentConfig struct {
	Profile         string  `json:"profile" mapstructure:"profile"`
	Model           string  `json:"model" mapstructure:"model"`
	Temperature     float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens       int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxSteps        int     `json:"max_steps" mapstructure:"max_steps"`
	SystemPrompt    string  `json:"system_prompt" mapstructure:"system_prompt"`
	CleanupOnFinish bool    `json:"cleanup_on_finish" mapstructure:"cleanup_on_finish"`
}

// DeviceConfig describes how to reach the device over adb.
type DeviceConfig struct {
	ADBPath        string `json:"adb_path" mapstructure:"adb_path"`
	Serial         string `json:"serial" mapstructure:"serial"`
	BridgePackage  string `json:"bridge_package" mapstructure:"bridge_package"`
	CommandTimeout int    `json:"command_timeout_sec" mapstructure:"command_timeout_sec"`
}

// RemoteConfig configures the virtual display backend. Experimental gates it
// at runtime and is hot-reloaded.
type RemoteConfig struct {
	Experimental    bool   `json:"experimental" mapstructure:"experimental"`
	Endpoint        string `json:"endpoint" mapstructure:"endpoint"`
	Width           int    `json:"width" mapstructure:"width"`
	Height          int    `json:"height" mapstructure:"height"`
	DPI             int    `json:"dpi" mapstructure:"dpi"`
	Bitrate         int    `json:"bitrate" mapstructure:"bitrate"`
	CallTimeoutMS   int    `json:"call_timeout_ms" mapstructure:"call_timeout_ms"`
	FallbackPackage string `json:"fallback_package" mapstructure:"fallback_package"`
}

// DispatchConfig holds input timing knobs.
type DispatchConfig struct {
	SettleMS        int `json:"settle_ms" mapstructure:"settle_ms"`
	OverlaySettleMS int `json:"overlay_settle_ms" mapstructure:"overlay_settle_ms"`
	MaxBackspace    int `json:"max_backspace" mapstructure:"max_backspace"`
}

// ControlConfig holds control gateway configuration
type ControlConfig struct {
	Host         string  `json:"host" mapstructure:"host"`
	Port         int     `json:"port" mapstructure:"port"`
	SharedSecret string  `json:"shared_secret" mapstructure:"shared_secret"`
	RateLimit    float64 `json:"rate_limit" mapstructure:"rate_limit"` // requests per second per client
	RateBurst    int     `json:"rate_burst" mapstructure:"rate_burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
}

// ScheduleConfig is a scheduled task. Expr is a five-field cron expression
// or a descriptor such as "@every 30m"; At is a one-shot RFC 3339 time.
type ScheduleConfig struct {
	ID       string `json:"id" mapstructure:"id"`
	Task     string `json:"task" mapstructure:"task"`
	Expr     string `json:"expr,omitempty" mapstructure:"expr"`
	At       string `json:"at,omitempty" mapstructure:"at"`
	TZ       string `json:"tz,omitempty" mapstructure:"tz"`
	MaxSteps int    `json:"max_steps" mapstructure:"max_steps"`
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		AI: AIConfig{Profiles: []AIProfile{}},
		Agent: AgentConfig{
			Model:           "claude-sonnet-4-5",
			Temperature:     0.1,
			MaxTokens:       2048,
			MaxSteps:        20,
			CleanupOnFinish: true,
		},
		Device: DeviceConfig{
			ADBPath:        "adb",
			CommandTimeout: 15,
		},
		Remote: RemoteConfig{
			Experimental:    false,
			Endpoint:        "ws://127.0.0.1:27183/display",
			Width:           1080,
			Height:          2400,
			DPI:             420,
			Bitrate:         4_000_000,
			CallTimeoutMS:   5000,
			FallbackPackage: "com.android.launcher3",
		},
		Dispatch: DispatchConfig{
			SettleMS:        500,
			OverlaySettleMS: 150,
			MaxBackspace:    50,
		},
		Control: ControlConfig{
			Host:      "127.0.0.1",
			Port:      8787,
			RateLimit: 20,
			RateBurst: 40,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   50,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
			Pretty:    true,
		},
		Schedules: []ScheduleConfig{},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Profile returns the AI profile the agent should use: the one named by
// agent.profile, else the lowest priority value.
func (c *Config) Profile() (AIProfile, error) {
	if len(c.AI.Profiles) == 0 {
		return AIProfile{}, fmt.Errorf("no AI profiles configured")
	}
	if c.Agent.Profile != "" {
		for _, p := range c.AI.Profiles {
			if p.ID == c.Agent.Profile {
				return p, nil
			}
		}
		return AIProfile{}, fmt.Errorf("AI profile %q not found", c.Agent.Profile)
	}
	best := c.AI.Profiles[0]
	for _, p := range c.AI.Profiles[1:] {
		if p.Priority < best.Priority {
			best = p
		}
	}
	return best, nil
}

func (d DispatchConfig) Settle() time.Duration {
	return time.Duration(d.SettleMS) * time.Millisecond
}

func (d DispatchConfig) OverlaySettle() time.Duration {
	return time.Duration(d.OverlaySettleMS) * time.Millisecond
}

func (r RemoteConfig) CallTimeout() time.Duration {
	return time.Duration(r.CallTimeoutMS) * time.Millisecond
}

func (d DeviceConfig) Timeout() time.Duration {
	return time.Duration(d.CommandTimeout) * time.Second
}

// Validate checks semantic rules the JSON schema cannot express.
func (c *Config) Validate() error {
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}
	seen := make(map[string]bool, len(c.AI.Profiles))
	for i, p := range c.AI.Profiles {
		if p.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("AI profile %s: duplicate ID", p.ID)
		}
		seen[p.ID] = true
		if !slices.Contains([]string{"anthropic", "openai", "gemini"}, p.Provider) {
			return fmt.Errorf("AI profile %s: invalid provider %q (must be: anthropic, openai, gemini)", p.ID, p.Provider)
		}
		if p.APIKey == "" && p.BaseURL == "" {
			return fmt.Errorf("AI profile %s: api_key is required", p.ID)
		}
	}
	if _, err := c.Profile(); err != nil {
		return err
	}
	if c.Agent.Model == "" {
		return fmt.Errorf("agent model is required")
	}
	if c.Agent.MaxSteps < 1 {
		return fmt.Errorf("agent max_steps must be at least 1, got %d", c.Agent.MaxSteps)
	}
	if c.Remote.Experimental && c.Remote.Endpoint == "" {
		return fmt.Errorf("remote endpoint is required when the remote display is enabled")
	}
	if c.Remote.Width <= 0 || c.Remote.Height <= 0 {
		return fmt.Errorf("remote display size must be positive, got %dx%d", c.Remote.Width, c.Remote.Height)
	}
	if c.Dispatch.SettleMS < 0 || c.Dispatch.OverlaySettleMS < 0 {
		return fmt.Errorf("settle delays must not be negative")
	}
	if c.Control.Port <= 0 || c.Control.Port > 65535 {
		return fmt.Errorf("control port out of range: %d", c.Control.Port)
	}
	ids := make(map[string]bool, len(c.Schedules))
	for i, s := range c.Schedules {
		if s.ID == "" || s.Task == "" || (s.Expr == "" && s.At == "") {
			return fmt.Errorf("schedule %d: id, task and expr or at are required", i)
		}
		if ids[s.ID] {
			return fmt.Errorf("schedule %s: duplicate ID", s.ID)
		}
		ids[s.ID] = true
	}
	return nil
}
