package session

import "fmt"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn. Images holds prompt-embeddable
// references (data URLs), never raw bytes.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// State is the mutable state of one run. It is owned by the run's goroutine
// and lives only as long as the run.
type State struct {
	ID              string
	StepCount       int
	MaxSteps        int
	History         []Message
	Pause           *PauseGate
	CleanupOnFinish bool
}

// NewState creates state for a run. A nil gate gets a fresh open one.
func NewState(id string, maxSteps int, gate *PauseGate, cleanup bool) *State {
	if gate == nil {
		gate = NewPauseGate()
	}
	return &State{ID: id, MaxSteps: maxSteps, Pause: gate, CleanupOnFinish: cleanup}
}

// Seed resets history to a single system turn.
func (s *State) Seed(systemPrompt string) {
	s.History = []Message{{Role: RoleSystem, Content: systemPrompt}}
}

// Advance moves to the next step. It fails once the budget is spent.
func (s *State) Advance() (int, error) {
	if s.StepCount >= s.MaxSteps {
		return s.StepCount, fmt.Errorf("step budget of %d exhausted", s.MaxSteps)
	}
	s.StepCount++
	return s.StepCount, nil
}

// Exhausted reports whether no steps remain.
func (s *State) Exhausted() bool { return s.StepCount >= s.MaxSteps }

func (s *State) AppendUser(content string, images ...string) {
	s.History = append(s.History, Message{Role: RoleUser, Content: content, Images: images})
}

func (s *State) AppendAssistant(content string) {
	s.History = append(s.History, Message{Role: RoleAssistant, Content: content})
}

// StripLastUserImages drops image references from the most recent user
// turn once the model has seen them, keeping history small.
func (s *State) StripLastUserImages() {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == RoleUser {
			s.History[i].Images = nil
			return
		}
	}
}

// Snapshot returns a copy of the history safe to hand to a provider.
func (s *State) Snapshot() []Message {
	out := make([]Message, len(s.History))
	copy(out, s.History)
	return out
}
