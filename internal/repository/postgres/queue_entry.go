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

type queueRepository struct {
	BaseRepository
}

func NewQueueRepository(base BaseRepository) repository.QueueRepository {
	return &queueRepository{base}
}

func (r *queueRepository) CreateMany(ctx context.Context, entries []*model.QueueEntry) error {
	if len(entries) == 0 {
		return nil
	}

	query := `
		INSERT INTO queue_entries (
			id, schedule_id, batch_id, campaign_id, batch_number, session,
			recipient, chat_id, content, image_ref, priority, scheduled_for,
			attempts, max_attempts, status, created_at, updated_at
		) VALUES (
			:id, :schedule_id, :batch_id, :campaign_id, :batch_number, :session,
			:recipient, :chat_id, :content, :image_ref, :priority, :scheduled_for,
			:attempts, :max_attempts, :status, :created_at, :updated_at
		)
	`
	now := time.Now()
	for _, entry := range entries {
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		entry.Status = model.QueueEntryStatusPending
		entry.CreatedAt = now
		entry.UpdatedAt = now
	}

	if _, err := r.db.NamedExecContext(ctx, query, entries); err != nil {
		return fmt.Errorf("failed to create queue entries: %w", err)
	}
	return nil
}

func (r *queueRepository) Get(ctx context.Context, id uuid.UUID) (*model.QueueEntry, error) {
	query := `SELECT * FROM queue_entries WHERE id = $1`

	var entry model.QueueEntry
	err := r.db.GetContext(ctx, &entry, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return &entry, nil
}

func (r *queueRepository) Update(ctx context.Context, entry *model.QueueEntry) error {
	query := `
		UPDATE queue_entries SET
			status = :status,
			attempts = :attempts,
			scheduled_for = :scheduled_for,
			error_message = :error_message,
			error_category = :error_category,
			gateway_msg_id = :gateway_msg_id,
			sent_at = :sent_at,
			updated_at = :updated_at
		WHERE id = :id
	`
	entry.UpdatedAt = time.Now()

	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("failed to update queue entry: %w", err)
	}
	return nil
}

// FetchDue marks selected entries processing in the same statement, so two
// overlapping ticks can never pick up the same entry.
func (r *queueRepository) FetchDue(ctx context.Context, now time.Time, limit int) ([]*model.QueueEntry, error) {
	query := `
		UPDATE queue_entries
		SET status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM queue_entries
			WHERE status = $2
			AND scheduled_for <= $3
			AND attempts < max_attempts
			ORDER BY priority DESC, scheduled_for ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`
	var entries []*model.QueueEntry
	err := r.db.SelectContext(ctx, &entries, query,
		model.QueueEntryStatusProcessing, model.QueueEntryStatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due entries: %w", err)
	}
	return entries, nil
}

func (r *queueRepository) FetchRetryable(ctx context.Context, limit int) ([]*model.QueueEntry, error) {
	query := `
		SELECT * FROM queue_entries
		WHERE status = $1
		AND attempts < max_attempts
		AND scheduled_for <= NOW()
		ORDER BY priority DESC, created_at ASC
		LIMIT $2
	`
	var entries []*model.QueueEntry
	err := r.db.SelectContext(ctx, &entries, query, model.QueueEntryStatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch retryable entries: %w", err)
	}
	return entries, nil
}

func (r *queueRepository) Reschedule(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE queue_entries
		SET status = $2, scheduled_for = $3, updated_at = $4
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, model.QueueEntryStatusPending, at, time.Now())
	if err != nil {
		return fmt.Errorf("failed to reschedule queue entry: %w", err)
	}
	return nil
}

// ReleaseStuck rescues entries a crashed worker left in processing. A crash
// after the gateway call but before resolution means the message can go out
// twice; delivery is at-least-once, not exactly-once.
func (r *queueRepository) ReleaseStuck(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE queue_entries
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND updated_at < $3
	`
	result, err := r.db.ExecContext(ctx, query,
		model.QueueEntryStatusPending, model.QueueEntryStatusProcessing, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to release stuck entries: %w", err)
	}
	return result.RowsAffected()
}

func (r *queueRepository) CountPending(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM queue_entries WHERE status = $1`

	var count int
	err := r.db.GetContext(ctx, &count, query, model.QueueEntryStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending entries: %w", err)
	}
	return count, nil
}

func (r *queueRepository) CountUnresolvedByBatch(ctx context.Context, batchID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM queue_entries
		WHERE batch_id = $1 AND status IN ($2, $3)
	`
	var count int
	err := r.db.GetContext(ctx, &count, query, batchID,
		model.QueueEntryStatusPending, model.QueueEntryStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to count unresolved entries: %w", err)
	}
	return count, nil
}

func (r *queueRepository) CountSentSince(ctx context.Context, session string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM queue_entries
		WHERE session = $1 AND status = $2 AND sent_at >= $3
	`
	var count int
	err := r.db.GetContext(ctx, &count, query, session, model.QueueEntryStatusSent, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count sent entries: %w", err)
	}
	return count, nil
}

func (r *queueRepository) OldestSentSince(ctx context.Context, session string, since time.Time) (*time.Time, error) {
	query := `
		SELECT MIN(sent_at) FROM queue_entries
		WHERE session = $1 AND status = $2 AND sent_at >= $3
	`
	var oldest sql.NullTime
	err := r.db.GetContext(ctx, &oldest, query, session, model.QueueEntryStatusSent, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get oldest sent entry: %w", err)
	}
	if !oldest.Valid {
		return nil, nil
	}
	return &oldest.Time, nil
}

func (r *queueRepository) CountSentTodayBySchedule(ctx context.Context, scheduleID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM queue_entries
		WHERE schedule_id = $1 AND status = $2 AND sent_at >= date_trunc('day', NOW())
	`
	var count int
	err := r.db.GetContext(ctx, &count, query, scheduleID, model.QueueEntryStatusSent)
	if err != nil {
		return 0, fmt.Errorf("failed to count sent entries for schedule: %w", err)
	}
	return count, nil
}

func (r *queueRepository) ArchiveTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM queue_entries
		WHERE status IN ($1, $2) AND updated_at < $3
	`
	result, err := r.db.ExecContext(ctx, query,
		model.QueueEntryStatusSent, model.QueueEntryStatusFailed, before)
	if err != nil {
		return 0, fmt.Errorf("failed to archive terminal entries: %w", err)
	}
	return result.RowsAffected()
}
