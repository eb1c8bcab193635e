package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/harun/phonepilot/pkg/device"
)

func TestOverlayGuard_RestoresOnFailure(t *testing.T) {
	inner := &mockBackend{}
	inner.On("Launch", mock.Anything, "pkg").Return(errBoom)
	ov := &overlayLog{}
	g := &overlayGuard{inner: inner, overlay: ov, sessionID: "s1", settle: func() time.Duration { return 0 }}

	err := g.Launch(context.Background(), "pkg")
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, []string{"hide", "show"}, ov.list())
}

func TestOverlayGuard_RestoresOnCancel(t *testing.T) {
	inner := &mockBackend{}
	ov := &overlayLog{}
	g := &overlayGuard{inner: inner, overlay: ov, sessionID: "s1", settle: func() time.Duration { return time.Minute }}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	err := g.Tap(ctx, 1, 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"hide", "show"}, ov.list())
	inner.AssertNotCalled(t, "Tap", mock.Anything, mock.Anything, mock.Anything)
}

func TestOverlayGuard_ScreenshotLeavesOverlay(t *testing.T) {
	inner := &mockBackend{}
	inner.On("Screenshot", mock.Anything).Return(device.Screenshot{Width: 1, Height: 1}, nil)
	ov := &overlayLog{}
	g := &overlayGuard{inner: inner, overlay: ov, sessionID: "s1", settle: func() time.Duration { return 0 }}

	shot, err := g.Screenshot(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, shot.Width)
	assert.Empty(t, ov.list())
}
