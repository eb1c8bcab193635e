// Package session tracks live agent runs and their per-run state.
//
// Invariants:
//
//   - A session id may own several live cancellation handles at once.
//   - Cancelling an id cancels every handle under it and leaves no entry behind.
//   - Registry critical sections are scoped to one session id; the global map
//     lock is held only to find or swap buckets.
//   - A paused run makes no model or device calls until resumed.
//
// Usage:
//
//	reg := session.NewRegistry()
//	ctx, release := reg.Track(ctx, "sess-1")
//	defer release()
//	// elsewhere:
//	reg.Cancel("sess-1", session.ErrCancelled)
package session
