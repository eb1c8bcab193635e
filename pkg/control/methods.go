package control

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/harun/phonepilot/internal/tracing"
	"github.com/harun/phonepilot/pkg/agent"
	"github.com/harun/phonepilot/pkg/session"
)

// Method names.
const (
	MethodRun       = "session.run"
	MethodPause     = "session.pause"
	MethodResume    = "session.resume"
	MethodCancel    = "session.cancel"
	MethodCancelAll = "session.cancel_all"
	MethodList      = "session.list"
	MethodClients   = "control.clients"
)

// SessionInfo describes one active session in session.list.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	Task      string    `json:"task,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Paused    bool      `json:"paused"`
	Pausable  bool      `json:"pausable"`
}

type runEntry struct {
	sessionID string
	task      string
	startedAt time.Time
	pause     *session.PauseGate
}

// runTable tracks runs started over RPC so they can be paused and drained.
type runTable struct {
	mu   sync.Mutex
	runs map[string]*runEntry
	wg   sync.WaitGroup
}

func newRunTable() *runTable {
	return &runTable{runs: make(map[string]*runEntry)}
}

func (t *runTable) add(e *runEntry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.runs[e.sessionID]; exists {
		return false
	}
	t.runs[e.sessionID] = e
	t.wg.Add(1)
	return true
}

func (t *runTable) done(sessionID string) {
	t.mu.Lock()
	delete(t.runs, sessionID)
	t.mu.Unlock()
	t.wg.Done()
}

func (t *runTable) get(sessionID string) (*runEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.runs[sessionID]
	return e, ok
}

func (t *runTable) snapshot() []*runEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*runEntry, 0, len(t.runs))
	for _, e := range t.runs {
		out = append(out, e)
	}
	return out
}

func (t *runTable) wait() { t.wg.Wait() }

func (s *Server) registerSessionMethods() {
	must := func(name string, h RequestHandler) {
		if err := s.router.RegisterMethod(name, h); err != nil {
			panic(err)
		}
	}
	must(MethodRun, s.handleRun)
	must(MethodPause, s.handlePause)
	must(MethodResume, s.handleResume)
	must(MethodCancel, s.handleCancel)
	must(MethodCancelAll, s.handleCancelAll)
	must(MethodList, s.handleList)
	must(MethodClients, s.handleClients)
}

func (s *Server) handleClients(context.Context, map[string]any) (any, error) {
	return map[string]any{"clients": s.clients.Snapshot()}, nil
}

func (s *Server) handleRun(ctx context.Context, params map[string]any) (any, error) {
	task := strings.TrimSpace(stringParam(params, "task"))
	if task == "" {
		return nil, invalidParams("task is required")
	}
	maxSteps, err := intParam(params, "max_steps")
	if err != nil {
		return nil, err
	}
	sessionID := stringParam(params, "session_id")
	if sessionID == "" {
		sessionID = tracing.NewSessionID()
	}
	if s.shuttingDown() {
		return nil, &RPCError{Code: InternalError, Message: "server is shutting down"}
	}

	entry := &runEntry{
		sessionID: sessionID,
		task:      task,
		startedAt: time.Now(),
		pause:     session.NewPauseGate(),
	}
	if !s.runs.add(entry) {
		return nil, invalidParams("session %s is already running", sessionID)
	}

	runCtx := tracing.WithTraceID(s.baseCtx, tracing.GetTraceID(ctx))
	go func() {
		defer s.runs.done(sessionID)
		msg, err := s.runner.Run(runCtx, agent.RunParams{
			SessionID:       sessionID,
			Task:            task,
			MaxSteps:        maxSteps,
			CleanupOnFinish: true,
			Pause:           entry.pause,
		})
		s.logger.Info().
			Str("session_id", sessionID).
			Str("message", msg).
			AnErr("error", err).
			Msg("RPC run ended")
	}()

	return map[string]any{"session_id": sessionID}, nil
}

func (s *Server) handlePause(_ context.Context, params map[string]any) (any, error) {
	entry, err := s.pausable(params)
	if err != nil {
		return nil, err
	}
	entry.pause.Pause()
	return map[string]any{"session_id": entry.sessionID, "paused": true}, nil
}

func (s *Server) handleResume(_ context.Context, params map[string]any) (any, error) {
	entry, err := s.pausable(params)
	if err != nil {
		return nil, err
	}
	entry.pause.Resume()
	return map[string]any{"session_id": entry.sessionID, "paused": false}, nil
}

func (s *Server) pausable(params map[string]any) (*runEntry, error) {
	sessionID := stringParam(params, "session_id")
	if sessionID == "" {
		return nil, invalidParams("session_id is required")
	}
	entry, ok := s.runs.get(sessionID)
	if !ok {
		return nil, invalidParams("no pausable run for session %s", sessionID)
	}
	return entry, nil
}

func (s *Server) handleCancel(_ context.Context, params map[string]any) (any, error) {
	sessionID := stringParam(params, "session_id")
	if sessionID == "" {
		return nil, invalidParams("session_id is required")
	}
	cause := session.ErrCancelled
	if reason := stringParam(params, "reason"); reason != "" {
		cause = fmt.Errorf("%w: %s", session.ErrCancelled, reason)
	}
	n := s.sessions.Cancel(sessionID, cause)
	s.logger.Info().Str("session_id", sessionID).Int("handles", n).Msg("Cancel requested")
	return map[string]any{"session_id": sessionID, "cancelled": n}, nil
}

func (s *Server) handleCancelAll(_ context.Context, _ map[string]any) (any, error) {
	n := s.sessions.CancelAll(session.ErrCancelled)
	s.logger.Info().Int("handles", n).Msg("Cancel all requested")
	return map[string]any{"cancelled": n}, nil
}

// handleList merges runs started over RPC with every other active session,
// such as scheduled runs.
func (s *Server) handleList(_ context.Context, _ map[string]any) (any, error) {
	byID := make(map[string]SessionInfo)
	for _, e := range s.runs.snapshot() {
		byID[e.sessionID] = SessionInfo{
			SessionID: e.sessionID,
			Task:      e.task,
			StartedAt: e.startedAt,
			Paused:    e.pause.Paused(),
			Pausable:  true,
		}
	}
	for _, id := range s.sessions.Active() {
		if _, ok := byID[id]; !ok {
			byID[id] = SessionInfo{SessionID: id}
		}
	}

	out := make([]SessionInfo, 0, len(byID))
	for _, info := range byID {
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b SessionInfo) int { return strings.Compare(a.SessionID, b.SessionID) })
	return map[string]any{"sessions": out}, nil
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// intParam accepts JSON numbers and numeric strings. Missing means 0.
func intParam(params map[string]any, key string) (int, error) {
	switch v := params[key].(type) {
	case nil:
		return 0, nil
	case float64:
		if v < 0 || v != float64(int(v)) {
			return 0, invalidParams("%s must be a non-negative integer", key)
		}
		return int(v), nil
	case int:
		return v, nil
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n < 0 {
			return 0, invalidParams("%s must be a non-negative integer", key)
		}
		return n, nil
	default:
		return 0, invalidParams("%s must be a number", key)
	}
}
