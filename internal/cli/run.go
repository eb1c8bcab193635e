package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/phonepilot/internal/daemon"
	"github.com/harun/phonepilot/internal/tracing"
	"github.com/harun/phonepilot/pkg/agent"
)

var (
	runMaxSteps  int
	runSessionID string
	runRemote    bool
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run one task on the connected device",
	Long: `Run a natural-language task on the connected device in the foreground.
Ctrl-C cancels the run at the next suspension point.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runMaxSteps, "max-steps", 0, "step budget (default from config)")
	runCmd.Flags().StringVar(&runSessionID, "session", "", "session id (generated when empty)")
	runCmd.Flags().BoolVar(&runRemote, "remote", false, "run on an isolated virtual display")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if runRemote {
		cfg.Remote.Experimental = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	l, log, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer l.Close()

	d, err := daemon.New(cfg, log, daemon.Options{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID := runSessionID
	if sessionID == "" {
		sessionID = tracing.NewSessionID()
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session %s\n", sessionID)

	msg, err := d.RunTask(ctx, daemon.TaskParams{
		SessionID: sessionID,
		Task:      strings.Join(args, " "),
		MaxSteps:  runMaxSteps,
		OnStep: func(o agent.StepOutcome) {
			fmt.Fprintln(out, formatStep(o))
		},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(out, "Cancelled")
			return nil
		}
		return err
	}
	fmt.Fprintf(out, "Done: %s\n", msg)
	return nil
}

func formatStep(o agent.StepOutcome) string {
	status := "ok"
	if !o.Success {
		status = "failed"
	}
	line := fmt.Sprintf("[%d] %s %s", o.Step, o.Kind, status)
	if o.Message != "" {
		line += ": " + o.Message
	}
	return line
}
