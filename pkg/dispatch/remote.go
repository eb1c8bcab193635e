package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/phonepilot/internal/observability"
	"github.com/harun/phonepilot/pkg/device"
)

const (
	longPressHold = 800 * time.Millisecond
	doubleTapGap  = 100 * time.Millisecond
	remoteSwipe   = 400 * time.Millisecond
)

// remoteBackend adapts a session's virtual display controller to
// device.Backend.
type remoteBackend struct {
	rd           device.RemoteDisplay
	settings     RemoteSettings
	maxBackspace int
	logger       zerolog.Logger
}

func (r *remoteBackend) Kind() device.Kind { return device.KindRemote }

func (r *remoteBackend) Tap(ctx context.Context, x, y int) error {
	return r.rd.Tap(ctx, x, y)
}

func (r *remoteBackend) LongPress(ctx context.Context, x, y int) error {
	return r.rd.Press(ctx, x, y, longPressHold)
}

func (r *remoteBackend) DoubleTap(ctx context.Context, x, y int) error {
	if err := r.rd.Tap(ctx, x, y); err != nil {
		return err
	}
	if err := sleep(ctx, doubleTapGap); err != nil {
		return err
	}
	return r.rd.Tap(ctx, x, y)
}

func (r *remoteBackend) Swipe(ctx context.Context, x1, y1, x2, y2 int, d time.Duration) error {
	if d <= 0 {
		d = remoteSwipe
	}
	return r.rd.Swipe(ctx, x1, y1, x2, y2, d)
}

func (r *remoteBackend) Key(ctx context.Context, code int) error {
	return r.rd.Key(ctx, code)
}

// Type clears the focused field and pastes text through the clipboard.
// Clearing is best effort: select-all plus delete, then the clear key, then
// a bounded run of backspaces.
func (r *remoteBackend) Type(ctx context.Context, text string) error {
	if !r.clear(ctx) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Warn().Msg("Could not clear input field; pasting anyway")
	}
	if err := r.rd.SetClipboard(ctx, text); err != nil {
		return fmt.Errorf("set clipboard: %w", err)
	}
	if err := r.rd.Key(ctx, device.KeyPaste); err != nil {
		return fmt.Errorf("paste: %w", err)
	}
	return nil
}

func (r *remoteBackend) clear(ctx context.Context) bool {
	if r.rd.KeyWithMeta(ctx, device.KeyA, device.MetaCtrlOn) == nil && r.rd.Key(ctx, device.KeyDel) == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	if r.rd.Key(ctx, device.KeyClear) == nil {
		return true
	}
	for i := range r.maxBackspace {
		if err := r.rd.Key(ctx, device.KeyDel); err != nil {
			return i > 0
		}
	}
	return true
}

// Launch makes sure the session has a display, then starts pkg on it. When
// that fails the fallback surface is launched so the display stays usable;
// the action still fails.
func (r *remoteBackend) Launch(ctx context.Context, pkg string) error {
	s := r.settings
	if err := r.rd.EnsureDisplay(ctx, s.Width, s.Height, s.DPI, s.Bitrate); err != nil {
		return fmt.Errorf("ensure virtual display: %w", err)
	}
	err := r.rd.LaunchApp(ctx, pkg)
	if err == nil {
		r.rd.Annotate(pkg)
		return nil
	}
	if ctx.Err() != nil || s.FallbackPackage == "" {
		return fmt.Errorf("failed to launch %s on virtual display: %w", pkg, err)
	}

	observability.RecordLaunchFallback()
	r.logger.Warn().Err(err).Str("package", pkg).Str("fallback", s.FallbackPackage).Msg("Remote launch failed; starting fallback surface")
	if ferr := r.rd.LaunchApp(ctx, s.FallbackPackage); ferr != nil {
		return fmt.Errorf("failed to launch %s on virtual display: %w", pkg, errors.Join(err, ferr))
	}
	r.rd.Annotate(s.FallbackPackage)
	return fmt.Errorf("failed to launch %s on virtual display: %w", pkg, err)
}

func (r *remoteBackend) Screenshot(ctx context.Context) (device.Screenshot, error) {
	return r.rd.Snapshot(ctx)
}
