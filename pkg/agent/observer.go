package agent

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/harun/phonepilot/pkg/device"
	"github.com/harun/phonepilot/pkg/session"
)

// placeholderRef stands in for a screenshot that could not be captured.
const placeholderRef = "[screenshot unavailable]"

// Observation is what the model sees at the start of a step.
type Observation struct {
	Ref    string // data URL, or placeholderRef
	Width  int
	Height int
	App    string
}

// HasImage reports whether Ref is a real capture.
func (o Observation) HasImage() bool { return o.Ref != placeholderRef && o.Ref != "" }

// Observer captures the current screen for a session.
type Observer interface {
	Observe(ctx context.Context, sessionID string) (Observation, error)
}

// Selector reports which backend a session is on. *dispatch.Dispatcher
// satisfies it.
type Selector interface {
	Context(ctx context.Context, sessionID string) (device.BackendContext, device.RemoteDisplay)
}

// ForegroundReader reports the package in front on the physical display.
type ForegroundReader interface {
	ForegroundApp(ctx context.Context) (string, error)
}

// ScreenObserver captures from the remote display when the session is on
// the remote path and from the local backend otherwise. A failed capture
// yields a placeholder and the last size seen for the session.
type ScreenObserver struct {
	local      device.Backend
	selector   Selector
	foreground ForegroundReader
	logger     zerolog.Logger

	mu   sync.Mutex
	last map[string][2]int
}

// NewScreenObserver creates a ScreenObserver. foreground may be nil.
func NewScreenObserver(local device.Backend, selector Selector, foreground ForegroundReader, logger zerolog.Logger) *ScreenObserver {
	return &ScreenObserver{
		local:      local,
		selector:   selector,
		foreground: foreground,
		logger:     logger.With().Str("component", "observer").Logger(),
		last:       make(map[string][2]int),
	}
}

// Observe implements Observer. Only cancellation is returned as an error.
func (o *ScreenObserver) Observe(ctx context.Context, sessionID string) (Observation, error) {
	var (
		shot device.Screenshot
		err  error
		app  string
	)

	bc, rd := o.selector.Context(ctx, sessionID)
	if bc.UsesRemote && bc.RemoteDisplayID != nil {
		shot, err = rd.Snapshot(ctx)
		app = rd.LaunchedPackage()
	} else {
		shot, err = o.local.Screenshot(ctx)
		if o.foreground != nil && err == nil {
			app, _ = o.foreground.ForegroundApp(ctx)
		}
	}
	if ctx.Err() != nil {
		return Observation{}, session.Err(ctx)
	}

	if err != nil || len(shot.PNG) == 0 {
		o.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Screenshot unavailable; using placeholder")
		w, h := o.size(sessionID)
		return Observation{Ref: placeholderRef, Width: w, Height: h, App: app}, nil
	}

	o.mu.Lock()
	o.last[sessionID] = [2]int{shot.Width, shot.Height}
	o.mu.Unlock()
	return Observation{Ref: shot.DataURL(), Width: shot.Width, Height: shot.Height, App: app}, nil
}

// Forget drops the remembered size for a finished session.
func (o *ScreenObserver) Forget(sessionID string) {
	o.mu.Lock()
	delete(o.last, sessionID)
	o.mu.Unlock()
}

func (o *ScreenObserver) size(sessionID string) (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.last[sessionID]; ok {
		return s[0], s[1]
	}
	return 1080, 2400
}
