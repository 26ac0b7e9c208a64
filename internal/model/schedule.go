package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type ScheduleType string

const (
	ScheduleTypeOnce      ScheduleType = "once"
	ScheduleTypeRecurring ScheduleType = "recurring"
)

type ScheduleStatus string

const (
	ScheduleStatusPending   ScheduleStatus = "pending"
	ScheduleStatusActive    ScheduleStatus = "active"
	ScheduleStatusPaused    ScheduleStatus = "paused"
	ScheduleStatusCompleted ScheduleStatus = "completed"
	ScheduleStatusError     ScheduleStatus = "error"
	ScheduleStatusFailed    ScheduleStatus = "failed"
)

// IsTerminal reports whether a schedule in this status will never fire again.
func (s ScheduleStatus) IsTerminal() bool {
	return s == ScheduleStatusCompleted || s == ScheduleStatusFailed
}

// Schedule is a durable definition of what to send, to whom, and when.
// Recipients are immutable once created; BatchSize and BatchDelaySeconds
// are clamped at creation time and never at dispatch time.
type Schedule struct {
	ID                uuid.UUID      `db:"id" json:"id"`
	Name              string         `db:"name" json:"name"`
	TemplateID        uuid.UUID      `db:"template_id" json:"template_id"`
	ScheduleType      ScheduleType   `db:"schedule_type" json:"schedule_type"`
	RunAt             *time.Time     `db:"run_at" json:"run_at,omitempty"`
	CronExpr          *string        `db:"cron_expr" json:"cron_expr,omitempty"`
	StartAt           *time.Time     `db:"start_at" json:"start_at,omitempty"`
	EndAt             *time.Time     `db:"end_at" json:"end_at,omitempty"`
	Session           string         `db:"session" json:"session"`
	BatchSize         int            `db:"batch_size" json:"batch_size"`
	BatchDelaySeconds int            `db:"batch_delay_seconds" json:"batch_delay_seconds"`
	DailyLimit        *int           `db:"daily_limit" json:"daily_limit,omitempty"`
	Params            StringMap      `db:"params" json:"params"`
	Recipients        pq.StringArray `db:"recipients" json:"recipients"`
	Status            ScheduleStatus `db:"status" json:"status"`
	NextRun           *time.Time     `db:"next_run" json:"next_run,omitempty"`
	LastRun           *time.Time     `db:"last_run" json:"last_run,omitempty"`
	ErrorMessage      *string        `db:"error_message" json:"error_message,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// BatchCount returns the number of batches this schedule will produce.
func (s *Schedule) BatchCount() int {
	if s.BatchSize <= 0 || len(s.Recipients) == 0 {
		return 0
	}
	return (len(s.Recipients) + s.BatchSize - 1) / s.BatchSize
}

// RecipientSlice returns the recipients of the given 1-based batch number.
// An empty slice means the schedule is exhausted.
func (s *Schedule) RecipientSlice(batchNumber int) []string {
	start := (batchNumber - 1) * s.BatchSize
	if start >= len(s.Recipients) {
		return nil
	}
	end := start + s.BatchSize
	if end > len(s.Recipients) {
		end = len(s.Recipients)
	}
	return s.Recipients[start:end]
}
