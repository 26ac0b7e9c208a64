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

type batchRepository struct {
	BaseRepository
}

func NewBatchRepository(base BaseRepository) repository.BatchRepository {
	return &batchRepository{base}
}

func (r *batchRepository) Create(ctx context.Context, batch *model.ScheduleBatch) error {
	if batch == nil {
		return fmt.Errorf("batch cannot be nil")
	}

	query := `
		INSERT INTO schedule_batches (
			id, schedule_id, batch_number, recipient_count, status,
			success_count, failure_count, started_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	batch.ID = uuid.New()
	batch.Status = model.BatchStatusProcessing
	batch.StartedAt = time.Now()
	batch.CreatedAt = time.Now()
	batch.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		batch.ID,
		batch.ScheduleID,
		batch.BatchNumber,
		batch.RecipientCount,
		batch.Status,
		batch.SuccessCount,
		batch.FailureCount,
		batch.StartedAt,
		batch.CreatedAt,
		batch.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

func (r *batchRepository) Get(ctx context.Context, id uuid.UUID) (*model.ScheduleBatch, error) {
	query := `SELECT * FROM schedule_batches WHERE id = $1`

	var batch model.ScheduleBatch
	err := r.db.GetContext(ctx, &batch, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &batch, nil
}

func (r *batchRepository) GetLatest(ctx context.Context, scheduleID uuid.UUID) (*model.ScheduleBatch, error) {
	query := `
		SELECT * FROM schedule_batches
		WHERE schedule_id = $1
		ORDER BY batch_number DESC
		LIMIT 1
	`
	var batch model.ScheduleBatch
	err := r.db.GetContext(ctx, &batch, query, scheduleID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest batch: %w", err)
	}
	return &batch, nil
}

func (r *batchRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.BatchStatus, errorMessage *string) error {
	query := `
		UPDATE schedule_batches
		SET status = $2,
			error_message = $3,
			completed_at = CASE WHEN $2 <> 'processing' THEN NOW() ELSE completed_at END,
			updated_at = $4
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, status, errorMessage, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update batch status: %w", err)
	}
	return nil
}

func (r *batchRepository) IncrementCounters(ctx context.Context, id uuid.UUID, success, failure int) (*model.ScheduleBatch, error) {
	query := `
		UPDATE schedule_batches
		SET success_count = success_count + $2,
			failure_count = failure_count + $3,
			updated_at = $4
		WHERE id = $1
		RETURNING *
	`
	var batch model.ScheduleBatch
	err := r.db.GetContext(ctx, &batch, query, id, success, failure, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to increment batch counters: %w", err)
	}
	return &batch, nil
}

func (r *batchRepository) ListBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]*model.ScheduleBatch, error) {
	query := `
		SELECT * FROM schedule_batches
		WHERE schedule_id = $1
		ORDER BY batch_number ASC
	`
	var batches []*model.ScheduleBatch
	err := r.db.SelectContext(ctx, &batches, query, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	return batches, nil
}
