package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	dirName  = ".phonepilot"
	fileName = "phonepilot.json"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Path returns the file the loader reads, resolving the default location.
func (l *Loader) Path() string {
	if l.configPath != "" {
		return l.configPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fileName
	}
	return filepath.Join(home, dirName, fileName)
}

// Load reads the config file over the defaults. A missing file yields the
// defaults. Environment variables prefixed PHONEPILOT_ override file values,
// e.g. PHONEPILOT_REMOTE_EXPERIMENTAL=true.
func (l *Loader) Load() (*Config, error) {
	path := l.Path()

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("PHONEPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()
	bindEnv(v)

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := ValidateSchema(data); err != nil {
			return nil, err
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(path)
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "phonepilot.log")
	}
	return cfg, nil
}

// bindEnv registers the keys that are commonly overridden from the
// environment; AutomaticEnv alone only covers keys viper already knows.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"agent.model",
		"agent.max_steps",
		"device.serial",
		"device.adb_path",
		"remote.experimental",
		"remote.endpoint",
		"control.port",
		"control.shared_secret",
		"logging.level",
	} {
		_ = v.BindEnv(key)
	}
}

// Save writes cfg to the loader path as JSON.
func (l *Loader) Save(cfg *Config) error {
	path := l.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(cfg.String()), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
