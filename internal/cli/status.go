package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/phonepilot/internal/config"
	"github.com/harun/phonepilot/internal/daemon"
	"github.com/harun/phonepilot/pkg/control"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Show whether the PhonePilot daemon is serving and list its active sessions.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	pid, running := runningPID(pidFile)
	if !running {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", pid)
	if info, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
	}

	ctx, cancel := withTimeout(cmd, 5*time.Second)
	defer cancel()
	printSessions(ctx, out, cfg)
	return nil
}

func printSessions(ctx context.Context, out io.Writer, cfg *config.Config) {
	sessions, err := control.NewRPCClient(controlURL(cfg), cfg.Control.SharedSecret).List(ctx)
	if err != nil {
		fmt.Fprintf(out, "Sessions: unavailable (%v)\n", err)
		return
	}
	fmt.Fprintf(out, "Sessions: %d\n", len(sessions))
	for _, s := range sessions {
		state := "running"
		if s.Paused {
			state = "paused"
		}
		line := fmt.Sprintf("  %s  %s", s.SessionID, state)
		if !s.StartedAt.IsZero() {
			line += "  " + formatDuration(time.Since(s.StartedAt))
		}
		if s.Task != "" {
			line += "  " + s.Task
		}
		fmt.Fprintln(out, line)
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func runningPID(pidFile string) (int, bool) {
	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		return 0, false
	}
	return pid, daemon.ProcessAlive(pid)
}

func withTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, d)
}
