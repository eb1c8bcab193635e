package daemon

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"iter"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/phonepilot/internal/config"
	"github.com/harun/phonepilot/pkg/agent"
)

type fakeADB struct {
	mu    sync.Mutex
	calls []string
	png   []byte
}

func newFakeADB(t *testing.T) *fakeADB {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 100, 200))))
	return &fakeADB{png: buf.Bytes()}
}

func (f *fakeADB) Run(_ context.Context, args ...string) ([]byte, error) {
	line := strings.Join(args, " ")
	f.mu.Lock()
	f.calls = append(f.calls, line)
	f.mu.Unlock()

	switch {
	case strings.Contains(line, "screencap"):
		return f.png, nil
	case strings.Contains(line, "pm list packages"):
		return []byte("package:com.android.settings\n"), nil
	case strings.Contains(line, "echo ok"):
		return []byte("ok\n"), nil
	}
	return nil, nil
}

func (f *fakeADB) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type scriptedModel struct {
	mu      sync.Mutex
	answers []string
}

func (m *scriptedModel) Provider() string { return "anthropic" }

func (m *scriptedModel) Stream(ctx context.Context, _ agent.LLMRequest) iter.Seq2[string, error] {
	m.mu.Lock()
	next := `finish(message="nothing left")`
	if len(m.answers) > 0 {
		next, m.answers = m.answers[0], m.answers[1:]
	}
	m.mu.Unlock()
	return func(yield func(string, error) bool) {
		if err := ctx.Err(); err != nil {
			yield("", err)
			return
		}
		yield(next, nil)
	}
}

type modelFactory struct{ model agent.LLMProvider }

func (f modelFactory) NewProvider(agent.AuthProfile) (agent.LLMProvider, error) { return f.model, nil }

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.AI.Profiles = []config.AIProfile{{ID: "main", Provider: "anthropic", APIKey: "sk-test"}}
	cfg.Dispatch.SettleMS = 1
	cfg.Dispatch.OverlaySettleMS = 1
	cfg.Control.Port = 0
	cfg.Control.SharedSecret = "s3cret"
	return cfg
}

func newTestDaemon(t *testing.T, cfg *config.Config, answers ...string) (*Daemon, *fakeADB) {
	t.Helper()
	adb := newFakeADB(t)
	d, err := New(cfg, zerolog.Nop(), Options{
		ADBRunner:       adb,
		ProviderFactory: modelFactory{model: &scriptedModel{answers: answers}},
	})
	require.NoError(t, err)
	return d, adb
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil, zerolog.Nop(), Options{})
	assert.Error(t, err)
}

func TestNewRequiresProfiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.AI.Profiles = nil
	_, err := New(cfg, zerolog.Nop(), Options{ADBRunner: newFakeADB(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent runner")
}

func TestRunTaskDrivesDevice(t *testing.T) {
	d, adb := newTestDaemon(t, testConfig(t),
		`Opening the toggle. do(action="Tap", element=[500,500])`,
		`finish(message="Dark mode is on")`,
	)

	var steps int
	msg, err := d.RunTask(t.Context(), TaskParams{
		SessionID: "sess-test",
		Task:      "Turn on dark mode",
		MaxSteps:  5,
		OnStep:    func(agent.StepOutcome) { steps++ },
	})
	require.NoError(t, err)
	assert.Equal(t, "Dark mode is on", msg)
	assert.Equal(t, 2, steps)

	var tapped bool
	for _, call := range adb.history() {
		if strings.Contains(call, "input tap 50 100") {
			tapped = true
		}
	}
	assert.True(t, tapped, "expected a tap at the screen centre, got %v", adb.history())
	assert.Empty(t, d.Status().ActiveSessions)
}

func TestRunTaskStopsAtMaxSteps(t *testing.T) {
	d, _ := newTestDaemon(t, testConfig(t),
		`do(action="Back")`, `do(action="Back")`, `do(action="Back")`,
	)
	msg, err := d.RunTask(t.Context(), TaskParams{SessionID: "sess-max", Task: "loop", MaxSteps: 2})
	require.NoError(t, err)
	assert.Equal(t, agent.MaxStepsMessage, msg)
}

func TestRunTaskCancelled(t *testing.T) {
	d, _ := newTestDaemon(t, testConfig(t))
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := d.RunTask(ctx, TaskParams{SessionID: "sess-cancel", Task: "anything"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestServeRequiresSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Control.SharedSecret = ""
	d, _ := newTestDaemon(t, cfg)
	assert.Error(t, d.Serve(t.Context()))
}

func TestServeWritesAndRemovesPIDFile(t *testing.T) {
	cfg := testConfig(t)
	d, _ := newTestDaemon(t, cfg)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	pidPath := PIDFilePath(cfg.DataDir)
	require.Eventually(t, func() bool {
		pid, err := ReadPID(pidPath)
		return err == nil && pid == os.Getpid()
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return d.Status().Running }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	_, err := os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err))
	assert.False(t, d.Status().Running)
}

func TestLifecycleRejectsLiveDaemon(t *testing.T) {
	cfg := testConfig(t)
	d, _ := newTestDaemon(t, cfg)

	// The parent process is alive for the duration of the test.
	other := os.Getppid()
	require.NoError(t, os.WriteFile(PIDFilePath(cfg.DataDir), []byte(strconv.Itoa(other)), 0o644))

	err := d.lifecycle.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("PID %d", other))
}

func TestLifecycleReplacesStalePID(t *testing.T) {
	cfg := testConfig(t)
	d, _ := newTestDaemon(t, cfg)
	require.NoError(t, os.WriteFile(PIDFilePath(cfg.DataDir), []byte("not-a-pid"), 0o644))

	require.NoError(t, d.lifecycle.Start())
	pid, err := ReadPID(PIDFilePath(cfg.DataDir))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	require.NoError(t, d.lifecycle.Stop())
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()))
	assert.False(t, ProcessAlive(0))
	assert.False(t, ProcessAlive(-4))
}

func TestAuthProfilesPrefersNamedProfile(t *testing.T) {
	profiles := []config.AIProfile{
		{ID: "a", Provider: "anthropic", Priority: 0},
		{ID: "b", Provider: "openai", Priority: 5},
	}
	out := authProfiles(profiles, "b")
	require.Len(t, out, 2)
	assert.Equal(t, 0, out[0].Priority)
	assert.Equal(t, -1, out[1].Priority)

	out = authProfiles(profiles, "")
	assert.Equal(t, 5, out[1].Priority)
}
