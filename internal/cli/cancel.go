package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/phonepilot/pkg/control"
)

var (
	cancelAll    bool
	cancelReason string
)

var cancelCmd = &cobra.Command{
	Use:   "cancel [session-id]",
	Short: "Cancel running sessions on a serving daemon",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCancel,
}

func init() {
	cancelCmd.Flags().BoolVar(&cancelAll, "all", false, "cancel every running session")
	cancelCmd.Flags().StringVar(&cancelReason, "reason", "", "reason recorded with the cancellation")
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	if cancelAll == (len(args) == 1) {
		return errors.New("pass either a session id or --all")
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := withTimeout(cmd, 10*time.Second)
	defer cancel()

	client := control.NewRPCClient(controlURL(cfg), cfg.Control.SharedSecret)
	var n int
	if cancelAll {
		n, err = client.CancelAll(ctx)
	} else {
		n, err = client.Cancel(ctx, args[0], cancelReason)
	}
	if err != nil {
		return fmt.Errorf("cancel failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %d run(s)\n", n)
	return nil
}
