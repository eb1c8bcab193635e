package cli

import (
	"errors"
	"fmt"
	"os"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/cobra"

	"github.com/harun/phonepilot/internal/config"
)

var (
	initProvider string
	initAPIKey   string
	initModel    string
	initSerial   string
	initForce    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Write a configuration file with defaults, one model profile and a
freshly generated control secret.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initProvider, "provider", "anthropic", "model provider (anthropic, openai, gemini)")
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "model API key")
	initCmd.Flags().StringVar(&initModel, "model", "", "model name (default from provider)")
	initCmd.Flags().StringVar(&initSerial, "serial", "", "adb device serial")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if initAPIKey == "" {
		return errors.New("--api-key is required")
	}
	loader := config.NewLoader(cfgFile)
	path := loader.Path()
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists; pass --force to overwrite", path)
	}

	cfg, err := starterConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration saved to: %s\n", path)
	fmt.Fprintln(out, `Run a task with: phonepilot run "open settings"`)
	return nil
}

var defaultModels = map[string]string{
	"anthropic": "claude-sonnet-4-5",
	"openai":    "gpt-4o",
	"gemini":    "gemini-2.5-flash",
}

func starterConfig() (*config.Config, error) {
	model, ok := defaultModels[initProvider]
	if !ok {
		return nil, fmt.Errorf("unsupported provider %q", initProvider)
	}
	if initModel != "" {
		model = initModel
	}
	secret, err := gonanoid.New(32)
	if err != nil {
		return nil, fmt.Errorf("generate control secret: %w", err)
	}

	cfg := config.DefaultConfig()
	cfg.AI.Profiles = []config.AIProfile{{ID: "default", Provider: initProvider, APIKey: initAPIKey}}
	cfg.Agent.Profile = "default"
	cfg.Agent.Model = model
	cfg.Device.Serial = initSerial
	cfg.Control.SharedSecret = secret
	return cfg, nil
}
