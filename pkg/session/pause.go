package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/harun/phonepilot/internal/observability"
)

// PauseGate is a cooperative pause switch. Wait blocks while the gate is
// paused and returns as soon as it is resumed or the context ends.
type PauseGate struct {
	mu     sync.Mutex
	paused bool
	open   chan struct{} // closed while not paused
}

// NewPauseGate returns an open (not paused) gate.
func NewPauseGate() *PauseGate {
	ch := make(chan struct{})
	close(ch)
	return &PauseGate{open: ch}
}

func (g *PauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		g.paused = true
		g.open = make(chan struct{})
	}
}

func (g *PauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.paused = false
		close(g.open)
	}
}

// Toggle flips the gate and reports whether it is now paused.
func (g *PauseGate) Toggle() bool {
	g.mu.Lock()
	paused := g.paused
	g.mu.Unlock()
	if paused {
		g.Resume()
	} else {
		g.Pause()
	}
	return !paused
}

func (g *PauseGate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Wait returns nil once the gate is open, or the context error if ctx ends
// first.
func (g *PauseGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	open := g.open
	g.mu.Unlock()

	select {
	case <-open:
		return nil
	default:
	}

	observability.AddPausedRuns(1)
	defer observability.AddPausedRuns(-1)
	select {
	case <-open:
		return nil
	case <-ctx.Done():
		return Err(ctx)
	}
}

// Err returns ctx.Err(), wrapping the cancellation cause when one was set,
// so callers can test for both context.Canceled and the cause.
func Err(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil && cause != err {
		return fmt.Errorf("%w: %w", err, cause)
	}
	return err
}
