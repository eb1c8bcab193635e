package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/phonepilot/internal/observability"
	"github.com/harun/phonepilot/internal/tracing"
	"github.com/harun/phonepilot/pkg/action"
	"github.com/harun/phonepilot/pkg/device"
	"github.com/harun/phonepilot/pkg/dispatch"
	"github.com/harun/phonepilot/pkg/session"
)

const tracerName = "phonepilot.agent"

// Run outcomes recorded in metrics.
const (
	outcomeFinished    = "finished"
	outcomeBudget      = "budget"
	outcomeUnparseable = "unparseable"
	outcomeModelError  = "model_error"
	outcomeCancelled   = "cancelled"
)

// Dispatcher executes one parsed action. *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID string, do action.Do, width, height int) (dispatch.Result, error)
}

// DisplayLifecycle manages per-session remote display controllers.
// *vdisplay.Registry satisfies it.
type DisplayLifecycle interface {
	Prepare(ctx context.Context, sessionID string) error
	Release(ctx context.Context, sessionID string)
}

// Runner drives task runs. One Runner serves any number of concurrent
// sessions.
type Runner struct {
	sessions        *session.Registry
	dispatcher      Dispatcher
	observer        Observer
	displays        DisplayLifecycle
	overlay         device.Overlay
	flags           device.FeatureFlags
	reporter        StatusReporter
	providerFactory ProviderCreator
	logger          zerolog.Logger

	model        string
	temperature  float64
	maxTokens    int
	systemPrompt string
	maxSteps     int

	// Auth profiles
	authProfiles []AuthProfile
	providers    map[string]LLMProvider
	authMu       sync.RWMutex
}

// Config holds runner configuration
type Config struct {
	Sessions        *session.Registry
	Dispatcher      Dispatcher
	Observer        Observer
	Displays        DisplayLifecycle
	Overlay         device.Overlay
	Flags           device.FeatureFlags
	Reporter        StatusReporter
	AuthProfiles    []AuthProfile
	ProviderFactory ProviderCreator
	Logger          zerolog.Logger

	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	MaxSteps     int
}

// NewRunner creates a new agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.Observer == nil {
		return nil, fmt.Errorf("observer is required")
	}
	if len(cfg.AuthProfiles) == 0 {
		return nil, fmt.Errorf("at least one auth profile is required")
	}

	r := &Runner{
		sessions:        cfg.Sessions,
		dispatcher:      cfg.Dispatcher,
		observer:        cfg.Observer,
		displays:        cfg.Displays,
		overlay:         cfg.Overlay,
		flags:           cfg.Flags,
		reporter:        cfg.Reporter,
		providerFactory: cfg.ProviderFactory,
		logger:          cfg.Logger.With().Str("component", "agent").Logger(),
		model:           cfg.Model,
		temperature:     cfg.Temperature,
		maxTokens:       cfg.MaxTokens,
		systemPrompt:    cfg.SystemPrompt,
		maxSteps:        cfg.MaxSteps,
		authProfiles:    append([]AuthProfile(nil), cfg.AuthProfiles...),
		providers:       make(map[string]LLMProvider),
	}
	if r.providerFactory == nil {
		r.providerFactory = &ProviderFactory{}
	}
	if r.overlay == nil {
		r.overlay = device.NopOverlay{}
	}
	if r.reporter == nil {
		r.reporter = nopReporter{}
	}
	if r.maxSteps <= 0 {
		r.maxSteps = defaultMaxSteps
	}
	if r.maxTokens <= 0 {
		r.maxTokens = 3000
	}
	if r.systemPrompt == "" {
		r.systemPrompt = DefaultSystemPrompt
	}
	sortProfilesByPriority(r.authProfiles)
	return r, nil
}

// Cancel stops every run registered under sessionID and returns how many
// were signalled.
func (r *Runner) Cancel(sessionID string) int {
	return r.sessions.Cancel(sessionID, session.ErrCancelled)
}

// Run executes a task until it finishes, the step budget is spent, or ctx
// is cancelled. Cancellation returns ("", err) with errors.Is(err,
// context.Canceled); every other ending returns the final message.
func (r *Runner) Run(ctx context.Context, params RunParams) (message string, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if params.SessionID == "" {
		params.SessionID = tracing.NewSessionID()
	}
	if params.MaxSteps <= 0 {
		params.MaxSteps = r.maxSteps
	}
	if params.SystemPrompt == "" {
		params.SystemPrompt = r.systemPrompt
	}

	ctx = tracing.NewRunContext(ctx, params.SessionID)
	ctx, release := r.sessions.Track(ctx, params.SessionID)
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.run",
		attribute.String("session.id", params.SessionID),
		attribute.Int("max_steps", params.MaxSteps),
	)
	logger := tracing.LoggerFromContext(ctx, r.logger)
	start := time.Now()

	state := session.NewState(params.SessionID, params.MaxSteps, params.Pause, params.CleanupOnFinish)
	state.Seed(params.SystemPrompt)

	outcome := outcomeCancelled
	defer func() {
		release()
		cleanupCtx := context.WithoutCancel(ctx)
		r.overlay.Show(cleanupCtx, params.SessionID)
		if state.CleanupOnFinish && r.displays != nil {
			r.displays.Release(cleanupCtx, params.SessionID)
		}
		if f, ok := r.observer.(interface{ Forget(string) }); ok {
			f.Forget(params.SessionID)
		}

		observability.RecordRun(outcome, time.Since(start))
		r.reporter.RunFinished(cleanupCtx, params.SessionID, message, err)
		tracing.EndSpan(span, err)

		event := logger.Info()
		if err != nil {
			event = logger.Warn().Err(err)
		}
		event.Str("outcome", outcome).
			Int("steps", state.StepCount).
			Dur("duration", time.Since(start)).
			Str("message", message).
			Msg("Run ended")
	}()

	logger.Info().Str("task", params.Task).Int("max_steps", params.MaxSteps).Msg("Run started")

	if r.displays != nil && r.flags != nil && r.flags.RemoteDisplayEnabled() {
		if perr := r.displays.Prepare(ctx, params.SessionID); perr != nil {
			logger.Debug().Err(perr).Msg("Remote display controller unavailable; continuing locally")
		}
	}

	for {
		if err = session.Err(ctx); err != nil {
			outcome = outcomeCancelled
			return "", err
		}
		if err = state.Pause.Wait(ctx); err != nil {
			outcome = outcomeCancelled
			return "", err
		}
		step, aerr := state.Advance()
		if aerr != nil {
			outcome = outcomeBudget
			return MaxStepsMessage, nil
		}

		var out StepOutcome
		out, outcome, err = r.step(ctx, state, params, step)
		if err != nil {
			outcome = outcomeCancelled
			return "", err
		}

		observability.RecordStep(out.Kind)
		r.reporter.StepCompleted(ctx, out)
		if params.OnStep != nil {
			params.OnStep(out)
		}
		if out.Finished {
			return out.Message, nil
		}
	}
}

// step runs one iteration and reports its outcome label.
func (r *Runner) step(ctx context.Context, state *session.State, params RunParams, step int) (StepOutcome, string, error) {
	start := time.Now()
	ctx = tracing.WithStep(ctx, step)
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.step", attribute.Int("step", step))
	var err error
	defer func() { tracing.EndSpan(span, err) }()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	obs, err := r.observer.Observe(ctx, state.ID)
	if err != nil {
		return StepOutcome{}, outcomeCancelled, err
	}

	content := screenInfo(obs)
	if step == 1 {
		content = params.Task + "\n\n" + content
	}
	var images []string
	if obs.HasImage() {
		images = []string{obs.Ref}
	}
	state.AppendUser(content, images...)

	out := StepOutcome{SessionID: state.ID, Step: step}

	raw, merr := r.complete(ctx, state.Snapshot(), logger)
	if merr != nil {
		if ctx.Err() != nil {
			err = session.Err(ctx)
			return StepOutcome{}, outcomeCancelled, err
		}
		logger.Error().Err(merr).Msg("Model call failed")
		out.Finished = true
		out.Kind = "model_error"
		out.Message = modelErrorPrefix + merr.Error()
		out.Duration = time.Since(start)
		return out, outcomeModelError, nil
	}

	rationale, answer := action.SplitRationaleAndAnswer(raw)
	state.AppendAssistant("<think>" + rationale + "</think><answer>" + answer + "</answer>")
	state.StripLastUserImages()

	parsed := action.Parse(answer)
	out.Action = parsed
	out.Kind = action.Kind(parsed)
	out.Rationale = rationale
	outcome := outcomeFinished

	switch p := parsed.(type) {
	case action.Finish:
		out.Success = true
		out.Finished = true
		out.Message = p.Message
	case action.Do:
		out.Kind = p.Name
		res, derr := r.dispatcher.Dispatch(ctx, state.ID, p, obs.Width, obs.Height)
		if derr != nil {
			err = derr
			return StepOutcome{}, outcomeCancelled, err
		}
		out.Success = res.Success
		out.Finished = res.ShouldFinish
		out.Message = res.Message
		out.Backend = string(res.Backend)
	case action.Unknown:
		out.Finished = true
		out.Message = unparsablePrefix + truncate(p.Raw, maxReportedRawSize)
		outcome = outcomeUnparseable
	}

	if !out.Finished && state.Exhausted() {
		out.Finished = true
		out.Message = MaxStepsMessage
		outcome = outcomeBudget
	}
	out.Duration = time.Since(start)

	logger.Debug().
		Str("action", out.Kind).
		Bool("success", out.Success).
		Bool("finished", out.Finished).
		Str("message", out.Message).
		Dur("duration", out.Duration).
		Msg("Step completed")
	return out, outcome, nil
}

func screenInfo(obs Observation) string {
	app := obs.App
	if app == "" {
		app = "unknown"
	}
	info := fmt.Sprintf("** Screen Info **\ncurrent_app: %s\nscreen: %dx%d", app, obs.Width, obs.Height)
	if !obs.HasImage() {
		info += "\nscreenshot: " + placeholderRef
	}
	return info
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// complete streams one answer, failing over between auth profiles.
// Failover only happens before the first chunk arrives.
func (r *Runner) complete(ctx context.Context, history []session.Message, logger zerolog.Logger) (string, error) {
	profiles := r.availableProfiles()

	req := LLMRequest{
		Model:       r.model,
		Messages:    history,
		Temperature: r.temperature,
		MaxTokens:   r.maxTokens,
	}

	var lastErr error
	for _, profile := range profiles {
		provider, err := r.provider(profile)
		if err != nil {
			logger.Warn().Err(err).Str("profile", profile.ID).Msg("Failed to create provider")
			lastErr = err
			continue
		}

		ctx, span := tracing.StartSpan(ctx, tracerName, "agent.model_stream",
			attribute.String("provider", provider.Provider()),
			attribute.String("profile", profile.ID),
		)
		start := time.Now()
		text, err := collect(provider.Stream(ctx, req))
		observability.RecordModelStream(provider.Provider(), time.Since(start), err == nil)
		tracing.EndSpan(span, err)

		if err == nil {
			r.updateProfileSuccess(profile.ID)
			return text, nil
		}
		if ctx.Err() != nil {
			return "", err
		}
		r.updateProfileFailure(profile.ID)
		lastErr = err
		if text != "" {
			break
		}
		logger.Warn().Err(err).Str("profile", profile.ID).Msg("Model stream failed, trying next profile")
	}
	return "", lastErr
}

func (r *Runner) provider(profile AuthProfile) (LLMProvider, error) {
	r.authMu.Lock()
	defer r.authMu.Unlock()
	if p, ok := r.providers[profile.ID]; ok {
		return p, nil
	}
	p, err := r.providerFactory.NewProvider(profile)
	if err != nil {
		return nil, err
	}
	r.providers[profile.ID] = p
	return p, nil
}

// availableProfiles returns the profiles not cooling down, in priority
// order. When all are cooling down every profile is returned.
func (r *Runner) availableProfiles() []AuthProfile {
	r.authMu.RLock()
	defer r.authMu.RUnlock()

	now := time.Now().UnixMilli()
	out := make([]AuthProfile, 0, len(r.authProfiles))
	for _, p := range r.authProfiles {
		if p.CooldownUntil != nil && *p.CooldownUntil > now {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		out = append(out, r.authProfiles...)
	}
	return out
}

// updateProfileSuccess resets failure tracking
func (r *Runner) updateProfileSuccess(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.authProfiles {
		if r.authProfiles[i].ID == profileID {
			r.authProfiles[i].FailureCount = 0
			r.authProfiles[i].CooldownUntil = nil
			return
		}
	}
}

// updateProfileFailure increments failure count and sets cooldown
func (r *Runner) updateProfileFailure(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.authProfiles {
		if r.authProfiles[i].ID == profileID {
			r.authProfiles[i].FailureCount++
			cooldownMs := time.Now().UnixMilli() + int64(60000*r.authProfiles[i].FailureCount)
			r.authProfiles[i].CooldownUntil = &cooldownMs
			return
		}
	}
}

func sortProfilesByPriority(profiles []AuthProfile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})
}
