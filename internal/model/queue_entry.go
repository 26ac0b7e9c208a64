package model

import (
	"time"

	"github.com/google/uuid"
)

type QueueEntryStatus string

const (
	QueueEntryStatusPending    QueueEntryStatus = "pending"
	QueueEntryStatusProcessing QueueEntryStatus = "processing"
	QueueEntryStatusSent       QueueEntryStatus = "sent"
	QueueEntryStatusFailed     QueueEntryStatus = "failed"
)

// QueueEntry is one message awaiting or having undergone a delivery attempt.
// Entries are created by the dispatcher and mutated only by the queue worker
// and the retry coordinator; they are never deleted mid-flight.
type QueueEntry struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	ScheduleID    *uuid.UUID       `db:"schedule_id" json:"schedule_id,omitempty"`
	BatchID       *uuid.UUID       `db:"batch_id" json:"batch_id,omitempty"`
	CampaignID    *uuid.UUID       `db:"campaign_id" json:"campaign_id,omitempty"`
	BatchNumber   int              `db:"batch_number" json:"batch_number"`
	Session       string           `db:"session" json:"session"`
	Recipient     string           `db:"recipient" json:"recipient"`
	ChatID        string           `db:"chat_id" json:"chat_id"`
	Content       string           `db:"content" json:"content"`
	ImageRef      *string          `db:"image_ref" json:"image_ref,omitempty"`
	Priority      int              `db:"priority" json:"priority"`
	ScheduledFor  time.Time        `db:"scheduled_for" json:"scheduled_for"`
	Attempts      int              `db:"attempts" json:"attempts"`
	MaxAttempts   int              `db:"max_attempts" json:"max_attempts"`
	Status        QueueEntryStatus `db:"status" json:"status"`
	ErrorMessage  *string          `db:"error_message" json:"error_message,omitempty"`
	ErrorCategory *string          `db:"error_category" json:"error_category,omitempty"`
	GatewayMsgID  *string          `db:"gateway_msg_id" json:"gateway_msg_id,omitempty"`
	SentAt        *time.Time       `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// Retryable reports whether the entry still has retry budget left.
func (e *QueueEntry) Retryable() bool {
	return e.Attempts < e.MaxAttempts
}
