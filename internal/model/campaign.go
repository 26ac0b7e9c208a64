package model

import (
	"time"

	"github.com/google/uuid"
)

type CampaignStatus string

const (
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// Campaign is the reporting aggregate spanning all queue entries produced
// by one schedule's (or one ad hoc broadcast's) execution.
type Campaign struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	ScheduleID   *uuid.UUID     `db:"schedule_id" json:"schedule_id,omitempty"`
	Name         string         `db:"name" json:"name"`
	Session      string         `db:"session" json:"session"`
	Status       CampaignStatus `db:"status" json:"status"`
	TotalCount   int            `db:"total_count" json:"total_count"`
	SuccessCount int            `db:"success_count" json:"success_count"`
	FailureCount int            `db:"failure_count" json:"failure_count"`
	PendingCount int            `db:"pending_count" json:"pending_count"`
	StartedAt    time.Time      `db:"started_at" json:"started_at"`
	CompletedAt  *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

type MessageRecordStatus string

const (
	MessageRecordStatusSent   MessageRecordStatus = "sent"
	MessageRecordStatusFailed MessageRecordStatus = "failed"
)

// MessageRecord is one append-only audit row per delivery outcome.
type MessageRecord struct {
	ID            uuid.UUID           `db:"id" json:"id"`
	CampaignID    uuid.UUID           `db:"campaign_id" json:"campaign_id"`
	Recipient     string              `db:"recipient" json:"recipient"`
	Status        MessageRecordStatus `db:"status" json:"status"`
	ErrorMessage  *string             `db:"error_message" json:"error_message,omitempty"`
	ErrorCategory *string             `db:"error_category" json:"error_category,omitempty"`
	BatchNumber   int                 `db:"batch_number" json:"batch_number"`
	GatewayMsgID  *string             `db:"gateway_msg_id" json:"gateway_msg_id,omitempty"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
}

// ErrorCategoryStat aggregates failures of one classified category.
type ErrorCategoryStat struct {
	Category       string   `json:"category"`
	Count          int      `json:"count"`
	ExampleMessage string   `json:"example_message,omitempty"`
	Recipients     []string `json:"recipients,omitempty"`
}

// BatchStat reports per-batch delivery outcomes.
type BatchStat struct {
	BatchNumber  int     `json:"batch_number"`
	Total        int     `json:"total"`
	SuccessCount int     `json:"success_count"`
	FailureCount int     `json:"failure_count"`
	SuccessRate  float64 `json:"success_rate"`
}

// CampaignReport is the on-demand aggregation over one campaign.
type CampaignReport struct {
	Campaign        *Campaign           `json:"campaign"`
	SuccessRate     float64             `json:"success_rate"`
	ErrorBreakdown  []ErrorCategoryStat `json:"error_breakdown"`
	BatchStats      []BatchStat         `json:"batch_stats"`
	Recommendations []string            `json:"recommendations"`
}
