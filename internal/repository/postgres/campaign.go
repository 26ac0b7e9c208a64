package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adirachman/wa-broadcast-api/internal/model"
	"github.com/adirachman/wa-broadcast-api/internal/repository"
)

type campaignRepository struct {
	BaseRepository
}

func NewCampaignRepository(base BaseRepository) repository.CampaignRepository {
	return &campaignRepository{base}
}

func (r *campaignRepository) Create(ctx context.Context, campaign *model.Campaign) error {
	if campaign == nil {
		return fmt.Errorf("campaign cannot be nil")
	}

	query := `
		INSERT INTO campaigns (
			id, schedule_id, name, session, status, total_count, success_count,
			failure_count, pending_count, started_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	campaign.ID = uuid.New()
	campaign.Status = model.CampaignStatusRunning
	campaign.StartedAt = time.Now()
	campaign.CreatedAt = time.Now()
	campaign.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		campaign.ID,
		campaign.ScheduleID,
		campaign.Name,
		campaign.Session,
		campaign.Status,
		campaign.TotalCount,
		campaign.SuccessCount,
		campaign.FailureCount,
		campaign.PendingCount,
		campaign.StartedAt,
		campaign.CreatedAt,
		campaign.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

func (r *campaignRepository) Get(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	query := `SELECT * FROM campaigns WHERE id = $1`

	var campaign model.Campaign
	err := r.db.GetContext(ctx, &campaign, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return &campaign, nil
}

func (r *campaignRepository) GetBySchedule(ctx context.Context, scheduleID uuid.UUID) (*model.Campaign, error) {
	query := `
		SELECT * FROM campaigns
		WHERE schedule_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	var campaign model.Campaign
	err := r.db.GetContext(ctx, &campaign, query, scheduleID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign by schedule: %w", err)
	}
	return &campaign, nil
}

func (r *campaignRepository) Update(ctx context.Context, campaign *model.Campaign) error {
	query := `
		UPDATE campaigns SET
			status = :status,
			total_count = :total_count,
			success_count = :success_count,
			failure_count = :failure_count,
			pending_count = :pending_count,
			completed_at = :completed_at,
			updated_at = :updated_at
		WHERE id = :id
	`
	campaign.UpdatedAt = time.Now()

	if _, err := r.db.NamedExecContext(ctx, query, campaign); err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	return nil
}

func (r *campaignRepository) IncrementCounters(ctx context.Context, id uuid.UUID, success, failure int) (*model.Campaign, error) {
	query := `
		UPDATE campaigns
		SET success_count = success_count + $2,
			failure_count = failure_count + $3,
			pending_count = GREATEST(pending_count - $2 - $3, 0),
			updated_at = $4
		WHERE id = $1
		RETURNING *
	`
	var campaign model.Campaign
	err := r.db.GetContext(ctx, &campaign, query, id, success, failure, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to increment campaign counters: %w", err)
	}
	return &campaign, nil
}

func (r *campaignRepository) MarkCompleted(ctx context.Context, id uuid.UUID, status model.CampaignStatus) error {
	query := `
		UPDATE campaigns
		SET status = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to mark campaign completed: %w", err)
	}
	return nil
}

func (r *campaignRepository) List(ctx context.Context, limit, offset int) ([]*model.Campaign, error) {
	query := `SELECT * FROM campaigns ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	var campaigns []*model.Campaign
	err := r.db.SelectContext(ctx, &campaigns, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, nil
}

func (r *campaignRepository) RecordMessage(ctx context.Context, record *model.MessageRecord) error {
	query := `
		INSERT INTO message_records (
			id, campaign_id, recipient, status, error_message, error_category,
			batch_number, gateway_msg_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	record.ID = uuid.New()
	record.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.CampaignID,
		record.Recipient,
		record.Status,
		record.ErrorMessage,
		record.ErrorCategory,
		record.BatchNumber,
		record.GatewayMsgID,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record message: %w", err)
	}
	return nil
}

func (r *campaignRepository) ListMessages(ctx context.Context, campaignID uuid.UUID) ([]*model.MessageRecord, error) {
	query := `
		SELECT * FROM message_records
		WHERE campaign_id = $1
		ORDER BY created_at ASC
	`
	var records []*model.MessageRecord
	err := r.db.SelectContext(ctx, &records, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list message records: %w", err)
	}
	return records, nil
}

func (r *campaignRepository) PruneOldest(ctx context.Context, keep int) (int64, error) {
	// message_records are removed via ON DELETE CASCADE.
	query := `
		DELETE FROM campaigns
		WHERE id IN (
			SELECT id FROM campaigns
			ORDER BY created_at DESC
			OFFSET $1
		)
	`
	result, err := r.db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune campaigns: %w", err)
	}
	return result.RowsAffected()
}
