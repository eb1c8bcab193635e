package adb

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/phonepilot/pkg/device"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records invocations and answers from a prefix table.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	replies map[string]reply
}

type reply struct {
	out []byte
	err error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{replies: make(map[string]reply)}
}

func (f *fakeRunner) on(prefix string, out string, err error) {
	f.replies[prefix] = reply{out: []byte(out), err: err}
}

func (f *fakeRunner) Run(_ context.Context, args ...string) ([]byte, error) {
	line := strings.Join(args, " ")
	f.mu.Lock()
	f.calls = append(f.calls, line)
	f.mu.Unlock()

	best := ""
	for prefix := range f.replies {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return nil, nil
	}
	r := f.replies[best]
	return r.out, r.err
}

func (f *fakeRunner) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newClient(r Runner) *Client {
	return New(Config{Serial: "emu-1", Runner: r, Logger: zerolog.Nop()})
}

func TestClientInput(t *testing.T) {
	ctx := context.Background()
	r := newFakeRunner()
	c := newClient(r)

	require.NoError(t, c.Tap(ctx, 540, 1200))
	require.NoError(t, c.LongPress(ctx, 1, 2))
	require.NoError(t, c.Swipe(ctx, 0, 0, 0, 100, 250*time.Millisecond))
	require.NoError(t, c.Key(ctx, device.KeyBack))
	require.NoError(t, c.Launch(ctx, "com.android.settings"))

	assert.Equal(t, []string{
		"-s emu-1 shell input tap 540 1200",
		"-s emu-1 shell input swipe 1 2 1 2 800",
		"-s emu-1 shell input swipe 0 0 0 100 250",
		"-s emu-1 shell input keyevent 4",
		"-s emu-1 shell monkey -p com.android.settings -c android.intent.category.LAUNCHER 1",
	}, r.history())
	assert.Equal(t, device.KindLocal, c.Kind())
}

func TestClientDoubleTap(t *testing.T) {
	r := newFakeRunner()
	require.NoError(t, newClient(r).DoubleTap(context.Background(), 3, 4))
	assert.Len(t, r.history(), 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := newClient(newFakeRunner()).DoubleTap(ctx, 3, 4)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClientSwipeDefaultDuration(t *testing.T) {
	assert.Equal(t, 300*time.Millisecond, swipeDuration(0, 0, 10, 10))
	assert.Equal(t, 2000*time.Millisecond, swipeDuration(0, 0, 0, 5000))
}

func TestClientType(t *testing.T) {
	ctx := context.Background()

	t.Run("ascii uses input text with escaping", func(t *testing.T) {
		r := newFakeRunner()
		require.NoError(t, newClient(r).Type(ctx, "hi there & (you)"))
		assert.Equal(t, []string{`-s emu-1 shell input text hi%sthere%s\&%s\(you\)`}, r.history())
	})

	t.Run("unicode uses the keyboard broadcast", func(t *testing.T) {
		r := newFakeRunner()
		r.on("-s emu-1 shell am broadcast", "Broadcast completed: result=0", nil)
		require.NoError(t, newClient(r).Type(ctx, "héllo"))
		assert.Contains(t, r.history()[0], "ADB_INPUT_B64 --es msg aMOpbGxv")
	})

	t.Run("undelivered broadcast fails", func(t *testing.T) {
		r := newFakeRunner()
		r.on("-s emu-1 shell am broadcast", "", nil)
		err := newClient(r).Type(ctx, "日本")
		assert.ErrorIs(t, err, ErrCommandFailed)
	})

	t.Run("empty text is a no-op", func(t *testing.T) {
		r := newFakeRunner()
		require.NoError(t, newClient(r).Type(ctx, ""))
		assert.Empty(t, r.history())
	})
}

func TestClientLaunchFailure(t *testing.T) {
	r := newFakeRunner()
	r.on("-s emu-1 shell monkey", "** No activities found to run, monkey aborted.", nil)
	assert.ErrorIs(t, newClient(r).Launch(context.Background(), "com.missing"), ErrCommandFailed)
}

func TestClientScreenshot(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 36, 80))))

	r := newFakeRunner()
	r.on("-s emu-1 exec-out screencap", buf.String(), nil)

	shot, err := newClient(r).Screenshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 36, shot.Width)
	assert.Equal(t, 80, shot.Height)

	r.on("-s emu-1 exec-out screencap", "garbage", nil)
	_, err = newClient(r).Screenshot(context.Background())
	assert.Error(t, err)
}

func TestClientForegroundApp(t *testing.T) {
	r := newFakeRunner()
	r.on("-s emu-1 shell dumpsys window", "  mCurrentFocus=Window{2b1c u0 com.android.settings/com.android.settings.Settings}\n", nil)

	pkg, err := newClient(r).ForegroundApp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "com.android.settings", pkg)
}

func TestClientListPackages(t *testing.T) {
	r := newFakeRunner()
	r.on("-s emu-1 shell pm list packages", "package:com.a\npackage:com.b\n\n", nil)

	pkgs, err := newClient(r).ListPackages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"com.a", "com.b"}, pkgs)

	r.on("-s emu-1 shell pm list packages", "", errors.New("boom"))
	_, err = newClient(r).ListPackages(context.Background())
	assert.Error(t, err)
}
