// Package adb drives an Android device through the adb command line tool.
package adb

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/harun/phonepilot/pkg/device"
	"github.com/rs/zerolog"
)

// Runner executes one adb invocation and returns its stdout.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// ExecRunner runs the adb binary with a per-command timeout.
type ExecRunner struct {
	Path    string
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	path := r.Path
	if path == "" {
		path = "adb"
	}
	cmd := exec.CommandContext(execCtx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	switch {
	case err == nil:
		return stdout.Bytes(), nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		return nil, fmt.Errorf("%w after %s: adb %s", ErrTimeout, timeout, strings.Join(args, " "))
	default:
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(msg, "no devices") || strings.Contains(msg, "device offline") || strings.Contains(msg, "not found") {
			return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, msg)
		}
		return nil, fmt.Errorf("%w: adb %s: %v: %s", ErrCommandFailed, strings.Join(args, " "), err, msg)
	}
}

// Config configures a Client.
type Config struct {
	Serial string
	Runner Runner
	Logger zerolog.Logger
}

// Client is the local backend. It implements device.Backend.
type Client struct {
	serial string
	runner Runner
	logger zerolog.Logger
}

var _ device.Backend = (*Client)(nil)

// New creates a client. A nil Runner uses ExecRunner with defaults.
func New(cfg Config) *Client {
	r := cfg.Runner
	if r == nil {
		r = ExecRunner{}
	}
	return &Client{
		serial: cfg.Serial,
		runner: r,
		logger: cfg.Logger.With().Str("component", "adb").Logger(),
	}
}

func (c *Client) Kind() device.Kind { return device.KindLocal }

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	if c.serial != "" {
		args = append([]string{"-s", c.serial}, args...)
	}
	c.logger.Debug().Strs("args", args).Msg("adb")
	return c.runner.Run(ctx, args...)
}

// Shell runs an adb shell command and returns trimmed output.
func (c *Client) Shell(ctx context.Context, args ...string) (string, error) {
	out, err := c.run(ctx, append([]string{"shell"}, args...)...)
	return strings.TrimSpace(string(out)), err
}

func (c *Client) Tap(ctx context.Context, x, y int) error {
	_, err := c.Shell(ctx, "input", "tap", itoa(x), itoa(y))
	return err
}

// LongPress holds the touch for 800ms.
func (c *Client) LongPress(ctx context.Context, x, y int) error {
	_, err := c.Shell(ctx, "input", "swipe", itoa(x), itoa(y), itoa(x), itoa(y), "800")
	return err
}

func (c *Client) DoubleTap(ctx context.Context, x, y int) error {
	if err := c.Tap(ctx, x, y); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
	}
	return c.Tap(ctx, x, y)
}

func (c *Client) Swipe(ctx context.Context, x1, y1, x2, y2 int, d time.Duration) error {
	if d <= 0 {
		d = swipeDuration(x1, y1, x2, y2)
	}
	_, err := c.Shell(ctx, "input", "swipe", itoa(x1), itoa(y1), itoa(x2), itoa(y2), itoa(int(d.Milliseconds())))
	return err
}

// swipeDuration scales with distance so long flings do not overshoot.
func swipeDuration(x1, y1, x2, y2 int) time.Duration {
	dx, dy := x2-x1, y2-y1
	ms := (dx*dx + dy*dy) / 1000
	return time.Duration(min(max(ms, 300), 2000)) * time.Millisecond
}

// Type injects text into the focused field. Plain ASCII goes through
// "input text"; anything else uses the ADB keyboard broadcast.
func (c *Client) Type(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if isPlainASCII(text) {
		_, err := c.Shell(ctx, "input", "text", escapeInputText(text))
		return err
	}
	b64 := base64.StdEncoding.EncodeToString([]byte(text))
	out, err := c.Shell(ctx, "am", "broadcast", "-a", "ADB_INPUT_B64", "--es", "msg", b64)
	if err != nil {
		return err
	}
	if !strings.Contains(out, "result=0") && !strings.Contains(out, "Broadcast completed") {
		return fmt.Errorf("%w: text broadcast not delivered", ErrCommandFailed)
	}
	return nil
}

func isPlainASCII(s string) bool {
	for _, r := range s {
		if r < 0x20 || r > 0x7e {
			return false
		}
	}
	return true
}

var shellSpecial = strings.NewReplacer(
	" ", "%s",
	`\`, `\\`,
	`"`, `\"`,
	`'`, `\'`,
	"&", `\&`,
	"|", `\|`,
	";", `\;`,
	"<", `\<`,
	">", `\>`,
	"(", `\(`,
	")", `\)`,
	"$", `\$`,
	"`", "\\`",
)

func escapeInputText(s string) string { return shellSpecial.Replace(s) }

func (c *Client) Key(ctx context.Context, code int) error {
	_, err := c.Shell(ctx, "input", "keyevent", itoa(code))
	return err
}

// Launch starts the launcher activity of pkg.
func (c *Client) Launch(ctx context.Context, pkg string) error {
	out, err := c.Shell(ctx, "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
	if err != nil {
		return err
	}
	if strings.Contains(out, "No activities found") || strings.Contains(out, "monkey aborted") {
		return fmt.Errorf("%w: no launchable activity in %s", ErrCommandFailed, pkg)
	}
	return nil
}

// Screenshot captures the screen as PNG and reads its size from the header.
func (c *Client) Screenshot(ctx context.Context) (device.Screenshot, error) {
	data, err := c.run(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return device.Screenshot{}, err
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return device.Screenshot{}, fmt.Errorf("decode screenshot: %w", err)
	}
	return device.Screenshot{PNG: data, Width: cfg.Width, Height: cfg.Height}, nil
}

var focusPattern = regexp.MustCompile(`mCurrentFocus=Window\{[^ ]+ [^ ]+ ([A-Za-z0-9_.]+)/`)

// ForegroundApp returns the package of the focused window, or "" when it
// cannot be determined.
func (c *Client) ForegroundApp(ctx context.Context) (string, error) {
	out, err := c.Shell(ctx, "dumpsys", "window")
	if err != nil {
		return "", err
	}
	if m := focusPattern.FindStringSubmatch(out); m != nil {
		return m[1], nil
	}
	return "", nil
}

// ListPackages returns installed package ids.
func (c *Client) ListPackages(ctx context.Context) ([]string, error) {
	out, err := c.Shell(ctx, "pm", "list", "packages")
	if err != nil {
		return nil, err
	}
	var pkgs []string
	for _, line := range strings.Split(out, "\n") {
		if p, ok := strings.CutPrefix(strings.TrimSpace(line), "package:"); ok && p != "" {
			pkgs = append(pkgs, p)
		}
	}
	return pkgs, nil
}

func itoa(n int) string { return strconv.Itoa(n) }
