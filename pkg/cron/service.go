package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/phonepilot/internal/observability"
	"github.com/harun/phonepilot/pkg/agent"
)

const sessionAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Job statuses.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrJobRunning    = errors.New("job already running")
	ErrNotRunning    = errors.New("scheduler is not running")
	ErrAlreadyActive = errors.New("scheduler already started")
)

// TaskRunner starts runs. *agent.Runner satisfies it.
type TaskRunner interface {
	Run(ctx context.Context, params agent.RunParams) (string, error)
}

// ServiceOptions configures the cron service
type ServiceOptions struct {
	// StorePath persists job state across restarts. Empty disables it.
	StorePath string
	Runner    TaskRunner
	Logger    zerolog.Logger
	OnEvent   func(evt Event)
	Clock     func() time.Time
}

// Service fires jobs on their schedules. Every run gets its own session
// id, so scheduled runs proceed alongside interactive ones.
type Service struct {
	opts   ServiceOptions
	logger zerolog.Logger

	mu      sync.Mutex
	jobs    map[string]*Job
	timers  map[string]*time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	runs    sync.WaitGroup
}

// NewService creates a new cron service
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if opts.OnEvent == nil {
		opts.OnEvent = func(Event) {}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	s := &Service{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "cron").Logger(),
		jobs:   make(map[string]*Job),
		timers: make(map[string]*time.Timer),
	}
	return s, nil
}

// SetJobs replaces the job set. Known ids keep their state; running jobs
// finish undisturbed. All schedules are validated before anything changes.
func (s *Service) SetJobs(jobs []Job) error {
	seen := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		if job.ID == "" || strings.TrimSpace(job.Task) == "" {
			return fmt.Errorf("job %q: id and task are required", job.ID)
		}
		if seen[job.ID] {
			return fmt.Errorf("job %s: duplicate id", job.ID)
		}
		seen[job.ID] = true
		if err := job.Schedule.Validate(); err != nil {
			return fmt.Errorf("job %s: invalid schedule: %w", job.ID, err)
		}
	}

	stored := s.loadState()

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*Job, len(jobs))
	for _, job := range jobs {
		j := job
		if prev, ok := s.jobs[j.ID]; ok {
			j.State = prev.State
		} else if st, ok := stored[j.ID]; ok {
			j.State = st
			j.State.RunningAtMs = nil
		}
		next[j.ID] = &j
	}
	for id := range s.jobs {
		s.cancelJobLocked(id)
	}
	s.jobs = next

	if s.started && !s.stopped {
		for _, job := range s.jobs {
			if job.Enabled {
				s.scheduleJobLocked(job)
			}
		}
	}
	s.logger.Info().Int("jobCount", len(s.jobs)).Msg("Jobs loaded")
	return nil
}

// Start schedules every enabled job and blocks until ctx ends, then stops
// the service and waits for in-flight runs.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, job := range s.jobs {
		if job.Enabled {
			s.scheduleJobLocked(job)
		}
	}
	done := s.ctx.Done()
	s.mu.Unlock()

	s.logger.Info().Msg("Cron service started")
	<-done
	return s.Stop()
}

// Stop cancels pending timers and in-flight runs and persists job state.
// It is idempotent.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	for id := range s.timers {
		s.cancelJobLocked(id)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.runs.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistLocked(); err != nil {
		return err
	}
	s.logger.Info().Msg("Cron service stopped")
	return nil
}

// RunJob starts id now regardless of its schedule and returns the session
// id of the run.
func (s *Service) RunJob(id string) (string, error) {
	job, sessionID, err := s.begin(id, true)
	if err != nil {
		return "", err
	}
	go s.execute(job, sessionID)
	return sessionID, nil
}

// ListJobs returns copies of all jobs ordered by id.
func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	slices.SortFunc(jobs, func(a, b Job) int { return strings.Compare(a.ID, b.ID) })
	return jobs
}

// GetJob returns a copy of one job.
func (s *Service) GetJob(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// scheduleJobLocked arms the timer for job's next run (must hold lock).
func (s *Service) scheduleJobLocked(job *Job) {
	now := s.opts.Clock()
	nextRunAtMs, err := CalculateNextRun(job.Schedule, now)
	if err != nil {
		job.State.NextRunAtMs = nil
		s.logger.Debug().Err(err).Str("jobId", job.ID).Msg("Job not scheduled")
		return
	}
	job.State.NextRunAtMs = Int64Ptr(nextRunAtMs)

	delay := max(time.Duration(nextRunAtMs-now.UnixMilli())*time.Millisecond, 0)
	id := job.ID
	s.timers[id] = time.AfterFunc(delay, func() { s.fire(id) })

	s.logger.Debug().
		Str("jobId", id).
		Dur("delay", delay).
		Time("nextRun", time.UnixMilli(nextRunAtMs)).
		Msg("Job scheduled")
}

// cancelJobLocked cancels a job's timer (must hold lock)
func (s *Service) cancelJobLocked(id string) {
	if timer, exists := s.timers[id]; exists {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Service) fire(id string) {
	job, sessionID, err := s.begin(id, false)
	if err != nil {
		s.logger.Debug().Err(err).Str("jobId", id).Msg("Skipping scheduled run")
		s.mu.Lock()
		if j, ok := s.jobs[id]; ok && j.Enabled && !s.stopped && errors.Is(err, ErrJobRunning) {
			s.scheduleJobLocked(j)
		}
		s.mu.Unlock()
		return
	}
	s.execute(job, sessionID)
}

// begin marks id as running and returns a snapshot to execute.
func (s *Service) begin(id string, manual bool) (Job, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return Job{}, "", ErrNotRunning
	}
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, "", fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if !manual && !job.Enabled {
		return Job{}, "", fmt.Errorf("job %s is disabled", id)
	}
	if job.State.RunningAtMs != nil {
		return Job{}, "", fmt.Errorf("%w: %s", ErrJobRunning, id)
	}

	suffix, err := gonanoid.Generate(sessionAlphabet, 8)
	if err != nil {
		return Job{}, "", fmt.Errorf("session id: %w", err)
	}
	sessionID := "cron-" + id + "-" + suffix

	job.State.RunningAtMs = Int64Ptr(s.opts.Clock().UnixMilli())
	job.State.LastSessionID = sessionID
	s.runs.Add(1)
	return *job, sessionID, nil
}

func (s *Service) execute(job Job, sessionID string) {
	defer s.runs.Done()

	logger := s.logger.With().Str("jobId", job.ID).Str("session_id", sessionID).Logger()
	logger.Info().Str("task", job.Task).Msg("Executing job")
	s.opts.OnEvent(Event{Action: EventActionStarted, JobID: job.ID, SessionID: sessionID})

	start := s.opts.Clock()
	message, err := s.opts.Runner.Run(s.ctx, agent.RunParams{
		SessionID:       sessionID,
		Task:            job.Task,
		MaxSteps:        job.MaxSteps,
		CleanupOnFinish: true,
	})
	durationMs := s.opts.Clock().Sub(start).Milliseconds()
	observability.RecordScheduledRun(job.ID, err == nil)

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.jobs[job.ID]
	if !exists {
		logger.Debug().Msg("Job removed while running")
		return
	}

	current.State.RunningAtMs = nil
	current.State.LastRunAtMs = Int64Ptr(start.UnixMilli())
	current.State.LastDurationMs = Int64Ptr(durationMs)
	current.State.LastMessage = message

	switch {
	case err == nil:
		current.State.LastStatus = StatusOK
		current.State.LastError = ""
		current.State.ConsecutiveErrors = 0
		logger.Info().Int64("durationMs", durationMs).Str("message", message).Msg("Job execution completed")
	case errors.Is(err, context.Canceled):
		current.State.LastStatus = StatusCancelled
		current.State.LastError = err.Error()
		logger.Info().Err(err).Msg("Job run cancelled")
	default:
		current.State.LastStatus = StatusError
		current.State.LastError = err.Error()
		current.State.ConsecutiveErrors++
		logger.Error().Err(err).Int("consecutiveErrors", current.State.ConsecutiveErrors).Msg("Job execution failed")
	}

	if current.Enabled && !s.stopped {
		s.cancelJobLocked(current.ID)
		s.scheduleJobLocked(current)
	} else {
		current.State.NextRunAtMs = nil
	}

	if perr := s.persistLocked(); perr != nil {
		logger.Error().Err(perr).Msg("Failed to persist job state")
	}

	s.opts.OnEvent(Event{
		Action:      EventActionFinished,
		JobID:       current.ID,
		SessionID:   sessionID,
		Status:      current.State.LastStatus,
		Error:       current.State.LastError,
		DurationMs:  Int64Ptr(durationMs),
		NextRunAtMs: current.State.NextRunAtMs,
	})
}

func (s *Service) loadState() map[string]JobState {
	if s.opts.StorePath == "" {
		return nil
	}
	data, err := os.ReadFile(s.opts.StorePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Msg("Failed to read job state")
		}
		return nil
	}
	var states map[string]JobState
	if err := json.Unmarshal(data, &states); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to parse job state, starting fresh")
		return nil
	}
	return states
}

// persistLocked writes job state atomically (must hold lock).
func (s *Service) persistLocked() error {
	if s.opts.StorePath == "" {
		return nil
	}
	states := make(map[string]JobState, len(s.jobs))
	for id, job := range s.jobs {
		states[id] = job.State
	}
	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.opts.StorePath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tempFile := s.opts.StorePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, s.opts.StorePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
