package agent

import (
	"context"
	"time"

	"github.com/harun/phonepilot/pkg/action"
	"github.com/harun/phonepilot/pkg/session"
)

// Final messages the loop produces itself.
const (
	MaxStepsMessage    = "Max steps reached"
	unparsablePrefix   = "Unable to parse action: "
	modelErrorPrefix   = "Model error: "
	defaultMaxSteps    = 100
	maxReportedRawSize = 200
)

// RunParams describe one task run.
type RunParams struct {
	SessionID       string
	Task            string
	SystemPrompt    string
	MaxSteps        int
	CleanupOnFinish bool
	Pause           *session.PauseGate
	OnStep          func(StepOutcome)
}

// StepOutcome reports what one loop iteration did.
type StepOutcome struct {
	SessionID string        `json:"session_id"`
	Step      int           `json:"step"`
	Success   bool          `json:"success"`
	Finished  bool          `json:"finished"`
	Action    action.Parsed `json:"-"`
	Kind      string        `json:"action"`
	Rationale string        `json:"rationale,omitempty"`
	Message   string        `json:"message,omitempty"`
	Backend   string        `json:"backend,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// StatusReporter receives run progress. Implementations must not block.
type StatusReporter interface {
	StepCompleted(ctx context.Context, outcome StepOutcome)
	RunFinished(ctx context.Context, sessionID, message string, err error)
}

// AuthProfile is one set of model credentials. Profiles are tried in
// priority order; a failing profile cools down before it is retried.
type AuthProfile struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"` // "anthropic", "openai", "gemini"
	APIKey        string `json:"api_key"`
	BaseURL       string `json:"base_url,omitempty"`
	CooldownUntil *int64 `json:"cooldown_until,omitempty"`
	FailureCount  int    `json:"failure_count"`
	Priority      int    `json:"priority"`
}

type nopReporter struct{}

func (nopReporter) StepCompleted(context.Context, StepOutcome)         {}
func (nopReporter) RunFinished(context.Context, string, string, error) {}
