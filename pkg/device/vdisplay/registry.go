package vdisplay

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/harun/phonepilot/pkg/device"
)

// DialFunc opens a controller for a session.
type DialFunc func(ctx context.Context, sessionID string) (*Controller, error)

// Registry owns at most one live Controller per session id.
type Registry struct {
	dial   DialFunc
	logger zerolog.Logger

	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewRegistry creates a registry that opens controllers with dial.
func NewRegistry(dial DialFunc, logger zerolog.Logger) *Registry {
	return &Registry{
		dial:        dial,
		logger:      logger.With().Str("component", "vdisplay-registry").Logger(),
		controllers: make(map[string]*Controller),
	}
}

// Get returns the live controller for sessionID. Dead controllers are
// dropped on lookup.
func (r *Registry) Get(sessionID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[sessionID]
	if ok && !c.Alive() {
		delete(r.controllers, sessionID)
		return nil, false
	}
	return c, ok
}

// GetOrCreate returns the session's controller, dialing one if needed.
// Dialing happens outside the lock; if two callers race, the loser's
// connection is closed.
func (r *Registry) GetOrCreate(ctx context.Context, sessionID string) (*Controller, error) {
	if c, ok := r.Get(sessionID); ok {
		return c, nil
	}
	c, err := r.dial(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.controllers[sessionID]; ok && existing.Alive() {
		r.mu.Unlock()
		_ = c.Shutdown(ctx)
		return existing, nil
	}
	r.controllers[sessionID] = c
	r.mu.Unlock()

	r.logger.Debug().Str("session_id", sessionID).Msg("Display controller created")
	return c, nil
}

// Release shuts down and forgets the session's controller.
func (r *Registry) Release(ctx context.Context, sessionID string) {
	r.mu.Lock()
	c, ok := r.controllers[sessionID]
	delete(r.controllers, sessionID)
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := c.Shutdown(ctx); err != nil {
		r.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Display release failed")
	}
}

// ReleaseAll shuts down every controller.
func (r *Registry) ReleaseAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.controllers))
	for id := range r.controllers {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Release(ctx, id)
	}
}

// Len returns the number of tracked controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controllers)
}

// Lookup implements device.RemoteDisplays.
func (r *Registry) Lookup(sessionID string) (device.RemoteDisplay, bool) {
	c, ok := r.Get(sessionID)
	if !ok {
		return nil, false
	}
	return c, true
}

// Prepare opens the session's controller ahead of its first remote action.
func (r *Registry) Prepare(ctx context.Context, sessionID string) error {
	_, err := r.GetOrCreate(ctx, sessionID)
	return err
}
