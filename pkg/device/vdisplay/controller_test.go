package vdisplay

import (
	"context"
	"testing"
	"time"

	"github.com/harun/phonepilot/pkg/device"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControllerRequiresDisplay(t *testing.T) {
	a := newFakeAgent(t)
	c, err := a.dial(context.Background(), "s1")
	require.NoError(t, err)
	defer c.Shutdown(context.Background())

	_, ok := c.DisplayID()
	assert.False(t, ok)
	assert.ErrorIs(t, c.Tap(context.Background(), 1, 1), ErrNoDisplay)
	assert.ErrorIs(t, c.LaunchApp(context.Background(), "com.x"), ErrNoDisplay)
	assert.Empty(t, a.methods())
}

func TestControllerLifecycle(t *testing.T) {
	ctx := context.Background()
	a := newFakeAgent(t)
	c, err := a.dial(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, c.EnsureDisplay(ctx, 1080, 2400, 420, 4_000_000))
	id, ok := c.DisplayID()
	require.True(t, ok)
	assert.Equal(t, 9, id)
	w, h := c.VideoSize()
	assert.Equal(t, 1080, w)
	assert.Equal(t, 2400, h)

	// Same size: no second round trip.
	require.NoError(t, c.EnsureDisplay(ctx, 1080, 2400, 420, 4_000_000))

	require.NoError(t, c.LaunchApp(ctx, "com.android.settings"))
	assert.Equal(t, "com.android.settings", a.last().Params.(map[string]any)["package"])

	require.NoError(t, c.Tap(ctx, 10, 20))
	require.NoError(t, c.Swipe(ctx, 1, 2, 3, 4, 300*time.Millisecond))
	require.NoError(t, c.KeyWithMeta(ctx, device.KeyA, device.MetaCtrlOn))
	params := a.last().Params.(map[string]any)
	assert.EqualValues(t, device.KeyA, params["code"])
	assert.EqualValues(t, device.MetaCtrlOn, params["meta"])
	require.NoError(t, c.SetClipboard(ctx, "héllo"))

	shot, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), shot.PNG)
	assert.Equal(t, 720, shot.Width)

	c.Annotate("com.android.settings")
	assert.Equal(t, "com.android.settings", c.LaunchedPackage())

	require.NoError(t, c.Shutdown(ctx))
	assert.False(t, c.Alive())
	assert.Equal(t, []string{
		MethodEnsureDisplay, MethodLaunch, MethodTap, MethodSwipe, MethodKey,
		MethodClipboard, MethodSnapshot, MethodRelease,
	}, a.methods())

	assert.ErrorIs(t, c.SetClipboard(ctx, "late"), ErrControllerClosed)
}

func TestControllerAgentError(t *testing.T) {
	ctx := context.Background()
	a := newFakeAgent(t)
	a.failOn(MethodLaunch, &RPCError{Code: 404, Message: "package not found"})

	c, err := a.dial(ctx, "s1")
	require.NoError(t, err)
	defer c.Shutdown(ctx)

	require.NoError(t, c.EnsureDisplay(ctx, 720, 1600, 320, 1))
	err = c.LaunchApp(ctx, "com.missing")
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, 404, rpcErr.Code)
}

func TestControllerTimeoutAndCancel(t *testing.T) {
	a := newFakeAgent(t)
	a.silence(MethodClipboard)

	c, err := Dial(context.Background(), a.endpoint(), "s1", Options{CallTimeout: 50 * time.Millisecond, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer c.Shutdown(context.Background())

	assert.ErrorIs(t, c.SetClipboard(context.Background(), "x"), ErrCallTimeout)

	c.timeout = time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.SetClipboard(ctx, "x"), context.DeadlineExceeded)
}

func TestControllerConnectionLoss(t *testing.T) {
	a := newFakeAgent(t)
	c, err := a.dial(context.Background(), "s1")
	require.NoError(t, err)

	a.drop()
	assert.Eventually(t, func() bool { return !c.Alive() }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, c.Shutdown(context.Background()))
}

func TestControllerEnsureDisplayComparesRequest(t *testing.T) {
	ctx := context.Background()
	a := newFakeAgent(t)
	a.reportSize(1080, 2392)
	c, err := a.dial(ctx, "s1")
	require.NoError(t, err)
	defer c.Shutdown(ctx)

	require.NoError(t, c.EnsureDisplay(ctx, 1080, 2400, 420, 4_000_000))
	w, h := c.VideoSize()
	assert.Equal(t, 1080, w)
	assert.Equal(t, 2392, h)

	// A rounded size from the agent does not force a new display.
	require.NoError(t, c.EnsureDisplay(ctx, 1080, 2400, 420, 4_000_000))
	assert.Equal(t, []string{MethodEnsureDisplay}, a.methods())

	// A density change does.
	require.NoError(t, c.EnsureDisplay(ctx, 1080, 2400, 320, 4_000_000))
	assert.Equal(t, []string{MethodEnsureDisplay, MethodEnsureDisplay}, a.methods())
	assert.EqualValues(t, 320, a.last().Params.(map[string]any)["dpi"])
}
