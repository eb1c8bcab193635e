package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/phonepilot/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control gateway and scheduler in the foreground",
	Long: `Run PhonePilot as a long-lived service. Clients start, pause and cancel
sessions over the control gateway, and configured schedules fire on time.
The config file is watched; schedules and the remote display switch reload
without a restart.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	l, log, err := newLogger(cfg, true)
	if err != nil {
		return err
	}
	defer l.Close()

	d, err := daemon.New(cfg, log, daemon.Options{Loader: loader})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s\n", controlURL(cfg))
	return d.Serve(ctx)
}
