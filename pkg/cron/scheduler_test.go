package cron

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateAtSchedule(t *testing.T) {
	now := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)

	t.Run("future timestamp", func(t *testing.T) {
		next, err := CalculateNextRun(Schedule{Kind: ScheduleKindAt, At: "2024-12-25T14:00:00Z"}, now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 12, 25, 14, 0, 0, 0, time.UTC).UnixMilli(), next)
	})

	t.Run("past timestamp has no next run", func(t *testing.T) {
		_, err := CalculateNextRun(Schedule{Kind: ScheduleKindAt, At: "2024-11-25T14:00:00Z"}, now)
		assert.True(t, errors.Is(err, ErrNoNextRun))
	})

	t.Run("invalid timestamp", func(t *testing.T) {
		_, err := CalculateNextRun(Schedule{Kind: ScheduleKindAt, At: "invalid"}, now)
		assert.ErrorContains(t, err, "invalid timestamp")
	})

	t.Run("missing at field", func(t *testing.T) {
		_, err := CalculateNextRun(Schedule{Kind: ScheduleKindAt}, now)
		assert.ErrorContains(t, err, "requires 'at' field")
	})
}

func TestCalculateCronSchedule(t *testing.T) {
	now := time.Date(2024, 12, 1, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		sch  Schedule
		want time.Time
	}{
		{
			name: "every hour",
			sch:  Schedule{Kind: ScheduleKindCron, Expr: "0 * * * *", TZ: "UTC"},
			want: time.Date(2024, 12, 1, 11, 0, 0, 0, time.UTC),
		},
		{
			name: "daily at nine rolls to tomorrow",
			sch:  Schedule{Kind: ScheduleKindCron, Expr: "0 9 * * *", TZ: "UTC"},
			want: time.Date(2024, 12, 2, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "descriptor",
			sch:  Schedule{Kind: ScheduleKindCron, Expr: "@every 15m", TZ: "UTC"},
			want: now.Add(15 * time.Minute),
		},
		{
			name: "timezone applied",
			sch:  Schedule{Kind: ScheduleKindCron, Expr: "0 9 * * *", TZ: "Asia/Jakarta"},
			want: time.Date(2024, 12, 2, 2, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := CalculateNextRun(tt.sch, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want.UnixMilli(), next)
		})
	}
}

func TestCalculateNextRun_Errors(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		sch     Schedule
		wantErr string
	}{
		{name: "invalid expression", sch: Schedule{Kind: ScheduleKindCron, Expr: "invalid"}, wantErr: "invalid cron expression"},
		{name: "invalid timezone", sch: Schedule{Kind: ScheduleKindCron, Expr: "0 9 * * *", TZ: "Invalid/Timezone"}, wantErr: "invalid timezone"},
		{name: "missing expr", sch: Schedule{Kind: ScheduleKindCron}, wantErr: "requires 'expr' field"},
		{name: "unknown kind", sch: Schedule{Kind: "every"}, wantErr: "unknown schedule kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CalculateNextRun(tt.sch, now)
			assert.ErrorContains(t, err, tt.wantErr)
			assert.ErrorContains(t, tt.sch.Validate(), tt.wantErr)
		})
	}
}

func TestSchedule_ValidateIgnoresPastAt(t *testing.T) {
	assert.NoError(t, Schedule{Kind: ScheduleKindAt, At: "2000-01-01T00:00:00Z"}.Validate())
}
