package cron

import (
	"time"

	"github.com/harun/phonepilot/internal/config"
)

// ScheduleKind represents the type of schedule
type ScheduleKind string

const (
	ScheduleKindAt   ScheduleKind = "at"
	ScheduleKindCron ScheduleKind = "cron"
)

// Schedule is when a job fires. Cron schedules accept five-field
// expressions and descriptors like "@hourly" or "@every 15m".
type Schedule struct {
	Kind ScheduleKind `json:"kind"`
	At   string       `json:"at,omitempty"`
	Expr string       `json:"expr,omitempty"`
	TZ   string       `json:"tz,omitempty"`
}

// JobState tracks runtime state of a job
type JobState struct {
	NextRunAtMs       *int64 `json:"nextRunAtMs,omitempty"`
	RunningAtMs       *int64 `json:"runningAtMs,omitempty"`
	LastRunAtMs       *int64 `json:"lastRunAtMs,omitempty"`
	LastStatus        string `json:"lastStatus,omitempty"` // "ok", "error" or "cancelled"
	LastMessage       string `json:"lastMessage,omitempty"`
	LastError         string `json:"lastError,omitempty"`
	LastDurationMs    *int64 `json:"lastDurationMs,omitempty"`
	LastSessionID     string `json:"lastSessionId,omitempty"`
	ConsecutiveErrors int    `json:"consecutiveErrors,omitempty"`
}

// Job is a task started on a schedule.
type Job struct {
	ID       string   `json:"id"`
	Task     string   `json:"task"`
	MaxSteps int      `json:"maxSteps,omitempty"`
	Enabled  bool     `json:"enabled"`
	Schedule Schedule `json:"schedule"`
	State    JobState `json:"state"`
}

// EventAction represents the type of event
type EventAction string

const (
	EventActionStarted  EventAction = "started"
	EventActionFinished EventAction = "finished"
)

// Event is emitted around each scheduled run.
type Event struct {
	Action      EventAction `json:"action"`
	JobID       string      `json:"jobId"`
	SessionID   string      `json:"sessionId,omitempty"`
	Status      string      `json:"status,omitempty"`
	Error       string      `json:"error,omitempty"`
	DurationMs  *int64      `json:"durationMs,omitempty"`
	NextRunAtMs *int64      `json:"nextRunAtMs,omitempty"`
}

// JobsFromConfig converts configured schedules to jobs.
func JobsFromConfig(schedules []config.ScheduleConfig) []Job {
	jobs := make([]Job, 0, len(schedules))
	for _, s := range schedules {
		sched := Schedule{Kind: ScheduleKindCron, Expr: s.Expr, TZ: s.TZ}
		if s.Expr == "" {
			sched = Schedule{Kind: ScheduleKindAt, At: s.At, TZ: s.TZ}
		}
		jobs = append(jobs, Job{
			ID:       s.ID,
			Task:     s.Task,
			MaxSteps: s.MaxSteps,
			Enabled:  s.Enabled,
			Schedule: sched,
		})
	}
	return jobs
}

// Now returns current time in milliseconds
func Now() int64 {
	return time.Now().UnixMilli()
}

// Int64Ptr returns a pointer to an int64 value
func Int64Ptr(v int64) *int64 {
	return &v
}
