package control

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/harun/phonepilot/internal/tracing"
	"github.com/harun/phonepilot/pkg/agent"
	"github.com/harun/phonepilot/pkg/device"
)

var (
	_ agent.StatusReporter = (*EventBroadcaster)(nil)
	_ device.Overlay       = (*EventBroadcaster)(nil)
)

// RunFinishedEvent is the payload of run.finished.
type RunFinishedEvent struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Error     string `json:"error,omitempty"`
}

// EventBroadcaster fans events out to all authenticated clients. It reports
// run progress and drives the on-device overlay, which listens as a client.
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     atomic.Int64
}

// NewEventBroadcaster creates a broadcaster with its own client registry.
func NewEventBroadcaster(logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: NewClientRegistry(),
		logger:  logger.With().Str("component", "control.broadcast").Logger(),
	}
}

// Clients returns the registry the broadcaster sends to.
func (b *EventBroadcaster) Clients() *ClientRegistry { return b.clients }

// Broadcast sends an event to all authenticated clients
func (b *EventBroadcaster) Broadcast(event string, data any) {
	b.BroadcastTyped(EventMessage{Event: event, Data: data})
}

// BroadcastTyped sends msg, filling in sequence and timestamp.
func (b *EventBroadcaster) BroadcastTyped(msg EventMessage) {
	msg.Type = "event"
	if msg.Seq == 0 {
		msg.Seq = b.seq.Add(1)
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	b.broadcastMessage(msg)
}

func (b *EventBroadcaster) broadcastContext(ctx context.Context, event, sessionID string, data any) {
	b.BroadcastTyped(EventMessage{
		Event:     event,
		Data:      data,
		SessionID: sessionID,
		TraceID:   tracing.GetTraceID(ctx),
		RunID:     tracing.GetRunID(ctx),
	})
}

// StepCompleted broadcasts a step event.
func (b *EventBroadcaster) StepCompleted(ctx context.Context, outcome agent.StepOutcome) {
	b.broadcastContext(ctx, EventStep, outcome.SessionID, outcome)
}

// RunFinished broadcasts a run.finished event.
func (b *EventBroadcaster) RunFinished(ctx context.Context, sessionID, message string, err error) {
	ev := RunFinishedEvent{SessionID: sessionID, Message: message}
	if err != nil {
		ev.Cancelled = errors.Is(err, context.Canceled)
		ev.Error = err.Error()
	}
	b.broadcastContext(ctx, EventRunFinished, sessionID, ev)
}

// Hide asks overlay clients to get out of the way of injected input.
func (b *EventBroadcaster) Hide(ctx context.Context, sessionID string) {
	b.broadcastContext(ctx, EventOverlayHide, sessionID, map[string]string{"session_id": sessionID})
}

// Show restores the overlay.
func (b *EventBroadcaster) Show(ctx context.Context, sessionID string) {
	b.broadcastContext(ctx, EventOverlayShow, sessionID, map[string]string{"session_id": sessionID})
}

func (b *EventBroadcaster) broadcastMessage(msg EventMessage) {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", msg.Event).Int64("seq", msg.Seq).Msg("Failed to marshal event")
		return
	}

	clients := b.clients.Authenticated()
	if len(clients) == 0 {
		b.logger.Debug().Str("event", msg.Event).Int64("seq", msg.Seq).Msg("No authenticated clients to broadcast to")
		return
	}

	successCount := 0
	failureCount := 0
	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, jsonData); err != nil {
			b.logger.Warn().
				Err(err).
				Str("clientId", client.ID).
				Str("event", msg.Event).
				Int64("seq", msg.Seq).
				Msg("Failed to broadcast to client")
			failureCount++
		} else {
			successCount++
		}
	}

	b.logger.Debug().
		Str("event", msg.Event).
		Str("session_id", msg.SessionID).
		Int64("seq", msg.Seq).
		Int("success", successCount).
		Int("failed", failureCount).
		Msg("Event broadcast complete")
}
