package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/harun/phonepilot/internal/observability"
	"github.com/rs/zerolog/log"
)

// ErrCancelled is the cause attached to runs stopped by a user request.
var ErrCancelled = errors.New("session cancelled")

// Handle is one registered cancellable execution.
type Handle struct {
	sessionID string
	cancel    context.CancelCauseFunc
}

// SessionID returns the id the handle was registered under.
func (h *Handle) SessionID() string { return h.sessionID }

type bucket struct {
	mu      sync.Mutex
	handles map[*Handle]struct{}
	dead    bool
}

// Registry maps session ids to their live handles. The zero value is not
// usable; call NewRegistry.
type Registry struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	live    atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	observability.EnsureRegistered()
	return &Registry{buckets: make(map[string]*bucket)}
}

// Register adds cancel under sessionID and returns its handle.
func (r *Registry) Register(sessionID string, cancel context.CancelCauseFunc) *Handle {
	h := &Handle{sessionID: sessionID, cancel: cancel}
	for {
		b := r.bucketFor(sessionID)
		b.mu.Lock()
		if !b.dead {
			b.handles[h] = struct{}{}
			b.mu.Unlock()
			r.adjust(1)
			return h
		}
		b.mu.Unlock()
		// Lost a race with Cancel or the last Unregister; drop the stale
		// bucket if it is still mapped and try again.
		r.mu.Lock()
		if r.buckets[sessionID] == b {
			delete(r.buckets, sessionID)
		}
		r.mu.Unlock()
	}
}

func (r *Registry) bucketFor(sessionID string) *bucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[sessionID]
	if !ok {
		b = &bucket{handles: make(map[*Handle]struct{})}
		r.buckets[sessionID] = b
	}
	return b
}

// Unregister removes h. It is idempotent and never cancels h.
func (r *Registry) Unregister(h *Handle) {
	r.mu.Lock()
	b := r.buckets[h.sessionID]
	r.mu.Unlock()
	if b == nil {
		return
	}

	b.mu.Lock()
	_, ok := b.handles[h]
	delete(b.handles, h)
	empty := len(b.handles) == 0
	if empty {
		b.dead = true
	}
	b.mu.Unlock()

	if ok {
		r.adjust(-1)
	}
	if empty {
		r.mu.Lock()
		if r.buckets[h.sessionID] == b {
			delete(r.buckets, h.sessionID)
		}
		r.mu.Unlock()
	}
}

// Cancel cancels and removes every handle under sessionID with the given
// cause and returns how many there were. Unknown ids are a no-op.
func (r *Registry) Cancel(sessionID string, cause error) int {
	r.mu.Lock()
	b := r.buckets[sessionID]
	delete(r.buckets, sessionID)
	r.mu.Unlock()
	if b == nil {
		return 0
	}

	n := r.drain(b, cause)
	log.Info().Str("session_id", sessionID).Int("handles", n).Msg("Session cancelled")
	observability.RecordCancellation("session", n)
	return n
}

// CancelAll cancels every registered handle.
func (r *Registry) CancelAll(cause error) int {
	r.mu.Lock()
	old := r.buckets
	r.buckets = make(map[string]*bucket)
	r.mu.Unlock()

	n := 0
	for _, b := range old {
		n += r.drain(b, cause)
	}
	log.Info().Int("sessions", len(old)).Int("handles", n).Msg("All sessions cancelled")
	observability.RecordCancellation("all", n)
	return n
}

// drain marks b dead and cancels its handles outside the lock.
func (r *Registry) drain(b *bucket, cause error) int {
	b.mu.Lock()
	b.dead = true
	handles := make([]*Handle, 0, len(b.handles))
	for h := range b.handles {
		handles = append(handles, h)
	}
	clear(b.handles)
	b.mu.Unlock()

	r.adjust(-len(handles))
	for _, h := range handles {
		h.cancel(cause)
	}
	return len(handles)
}

func (r *Registry) adjust(delta int) {
	observability.SetActiveRuns(int(r.live.Add(int64(delta))))
}

// Track derives a cancellable context from parent and registers it under
// sessionID. The handle unregisters itself when the context ends; release
// unregisters and cancels it immediately.
func (r *Registry) Track(parent context.Context, sessionID string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	h := r.Register(sessionID, cancel)
	stop := context.AfterFunc(ctx, func() { r.Unregister(h) })
	return ctx, func() {
		stop()
		r.Unregister(h)
		cancel(context.Canceled)
	}
}

// Count returns the number of live handles under sessionID.
func (r *Registry) Count(sessionID string) int {
	r.mu.Lock()
	b := r.buckets[sessionID]
	r.mu.Unlock()
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handles)
}

// Active returns the sorted ids with at least one live handle.
func (r *Registry) Active() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.buckets))
	for id := range r.buckets {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	out := ids[:0]
	for _, id := range ids {
		if r.Count(id) > 0 {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}
