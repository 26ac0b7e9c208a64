package model

import (
	"time"

	"github.com/google/uuid"
)

type BatchStatus string

const (
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// ScheduleBatch is one bounded slice of a schedule's recipients.
// BatchNumber is monotonic per schedule, starting at 1.
type ScheduleBatch struct {
	ID             uuid.UUID   `db:"id" json:"id"`
	ScheduleID     uuid.UUID   `db:"schedule_id" json:"schedule_id"`
	BatchNumber    int         `db:"batch_number" json:"batch_number"`
	RecipientCount int         `db:"recipient_count" json:"recipient_count"`
	Status         BatchStatus `db:"status" json:"status"`
	SuccessCount   int         `db:"success_count" json:"success_count"`
	FailureCount   int         `db:"failure_count" json:"failure_count"`
	ErrorMessage   *string     `db:"error_message" json:"error_message,omitempty"`
	StartedAt      time.Time   `db:"started_at" json:"started_at"`
	CompletedAt    *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}

// Resolved reports whether every entry of the batch reached a terminal state.
func (b *ScheduleBatch) Resolved() bool {
	return b.SuccessCount+b.FailureCount >= b.RecipientCount
}
