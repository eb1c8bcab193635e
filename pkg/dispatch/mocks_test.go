package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/harun/phonepilot/pkg/device"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Kind() device.Kind { return device.KindLocal }

func (m *mockBackend) Tap(ctx context.Context, x, y int) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *mockBackend) LongPress(ctx context.Context, x, y int) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *mockBackend) DoubleTap(ctx context.Context, x, y int) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *mockBackend) Swipe(ctx context.Context, x1, y1, x2, y2 int, d time.Duration) error {
	return m.Called(ctx, x1, y1, x2, y2, d).Error(0)
}

func (m *mockBackend) Type(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func (m *mockBackend) Key(ctx context.Context, code int) error {
	return m.Called(ctx, code).Error(0)
}

func (m *mockBackend) Launch(ctx context.Context, pkg string) error {
	return m.Called(ctx, pkg).Error(0)
}

func (m *mockBackend) Screenshot(ctx context.Context) (device.Screenshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(device.Screenshot), args.Error(1)
}

type mockDisplay struct {
	mock.Mock
	displayID int
	hasID     bool
}

func (m *mockDisplay) EnsureDisplay(ctx context.Context, width, height, dpi, bitrate int) error {
	return m.Called(ctx, width, height, dpi, bitrate).Error(0)
}

func (m *mockDisplay) LaunchApp(ctx context.Context, pkg string) error {
	return m.Called(ctx, pkg).Error(0)
}

func (m *mockDisplay) Tap(ctx context.Context, x, y int) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *mockDisplay) Press(ctx context.Context, x, y int, hold time.Duration) error {
	return m.Called(ctx, x, y, hold).Error(0)
}

func (m *mockDisplay) Swipe(ctx context.Context, x1, y1, x2, y2 int, d time.Duration) error {
	return m.Called(ctx, x1, y1, x2, y2, d).Error(0)
}

func (m *mockDisplay) Key(ctx context.Context, code int) error {
	return m.Called(ctx, code).Error(0)
}

func (m *mockDisplay) KeyWithMeta(ctx context.Context, code, meta int) error {
	return m.Called(ctx, code, meta).Error(0)
}

func (m *mockDisplay) SetClipboard(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func (m *mockDisplay) Snapshot(ctx context.Context) (device.Screenshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(device.Screenshot), args.Error(1)
}

func (m *mockDisplay) DisplayID() (int, bool) { return m.displayID, m.hasID }

func (m *mockDisplay) VideoSize() (int, int) { return 1080, 2400 }

func (m *mockDisplay) Annotate(pkg string) { m.Called(pkg) }

func (m *mockDisplay) LaunchedPackage() string { return "" }

type displays map[string]device.RemoteDisplay

func (d displays) Lookup(sessionID string) (device.RemoteDisplay, bool) {
	rd, ok := d[sessionID]
	return rd, ok
}

type fixedTier struct {
	tier device.Tier
	err  error
}

func (f fixedTier) Tier(context.Context) (device.Tier, error) { return f.tier, f.err }

type bridge struct {
	ready bool
	err   error
}

func (b bridge) Ready(context.Context) (bool, error) { return b.ready, b.err }

// apps resolves from known and moves pending entries into known on Rescan.
type apps struct {
	mu      sync.Mutex
	known   map[string]string
	pending map[string]string
	rescans int
}

func (a *apps) Resolve(_ context.Context, name string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pkg, ok := a.known[name]
	return pkg, ok
}

func (a *apps) Rescan(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rescans++
	if a.known == nil {
		a.known = map[string]string{}
	}
	for k, v := range a.pending {
		a.known[k] = v
	}
	return nil
}

type overlayLog struct {
	mu     sync.Mutex
	events []string
}

func (o *overlayLog) Hide(context.Context, string) { o.add("hide") }
func (o *overlayLog) Show(context.Context, string) { o.add("show") }

func (o *overlayLog) add(e string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *overlayLog) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

type flags struct {
	remote bool
	settle time.Duration
}

func (f flags) RemoteDisplayEnabled() bool   { return f.remote }
func (f flags) Settle() time.Duration        { return f.settle }
func (f flags) OverlaySettle() time.Duration { return 0 }

var errBoom = errors.New("boom")
