package dispatch

import (
	"context"
	"time"

	"github.com/harun/phonepilot/pkg/device"
)

// overlayGuard hides the feedback overlay around every motor action on the
// local backend and restores it on all exit paths.
type overlayGuard struct {
	inner     device.Backend
	overlay   device.Overlay
	sessionID string
	settle    func() time.Duration
}

func (g *overlayGuard) Kind() device.Kind { return g.inner.Kind() }

func (g *overlayGuard) around(ctx context.Context, fn func() error) error {
	g.overlay.Hide(ctx, g.sessionID)
	defer g.overlay.Show(context.WithoutCancel(ctx), g.sessionID)
	if err := sleep(ctx, g.settle()); err != nil {
		return err
	}
	return fn()
}

func (g *overlayGuard) Tap(ctx context.Context, x, y int) error {
	return g.around(ctx, func() error { return g.inner.Tap(ctx, x, y) })
}

func (g *overlayGuard) LongPress(ctx context.Context, x, y int) error {
	return g.around(ctx, func() error { return g.inner.LongPress(ctx, x, y) })
}

func (g *overlayGuard) DoubleTap(ctx context.Context, x, y int) error {
	return g.around(ctx, func() error { return g.inner.DoubleTap(ctx, x, y) })
}

func (g *overlayGuard) Swipe(ctx context.Context, x1, y1, x2, y2 int, d time.Duration) error {
	return g.around(ctx, func() error { return g.inner.Swipe(ctx, x1, y1, x2, y2, d) })
}

func (g *overlayGuard) Type(ctx context.Context, text string) error {
	return g.around(ctx, func() error { return g.inner.Type(ctx, text) })
}

func (g *overlayGuard) Key(ctx context.Context, code int) error {
	return g.around(ctx, func() error { return g.inner.Key(ctx, code) })
}

func (g *overlayGuard) Launch(ctx context.Context, pkg string) error {
	return g.around(ctx, func() error { return g.inner.Launch(ctx, pkg) })
}

func (g *overlayGuard) Screenshot(ctx context.Context) (device.Screenshot, error) {
	return g.inner.Screenshot(ctx)
}
