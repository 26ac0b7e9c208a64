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

type scheduleRepository struct {
	BaseRepository
}

func NewScheduleRepository(base BaseRepository) repository.ScheduleRepository {
	return &scheduleRepository{base}
}

func (r *scheduleRepository) Create(ctx context.Context, schedule *model.Schedule) error {
	if schedule == nil {
		return fmt.Errorf("schedule cannot be nil")
	}

	query := `
		INSERT INTO schedules (
			id, name, template_id, schedule_type, run_at, cron_expr, start_at, end_at,
			session, batch_size, batch_delay_seconds, daily_limit, params, recipients,
			status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
	`
	schedule.ID = uuid.New()
	schedule.CreatedAt = time.Now()
	schedule.UpdatedAt = time.Now()
	schedule.Status = model.ScheduleStatusPending

	_, err := r.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.Name,
		schedule.TemplateID,
		schedule.ScheduleType,
		schedule.RunAt,
		schedule.CronExpr,
		schedule.StartAt,
		schedule.EndAt,
		schedule.Session,
		schedule.BatchSize,
		schedule.BatchDelaySeconds,
		schedule.DailyLimit,
		schedule.Params,
		schedule.Recipients,
		schedule.Status,
		schedule.CreatedAt,
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

func (r *scheduleRepository) Get(ctx context.Context, id uuid.UUID) (*model.Schedule, error) {
	query := `SELECT * FROM schedules WHERE id = $1`

	var schedule model.Schedule
	err := r.db.GetContext(ctx, &schedule, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return &schedule, nil
}

func (r *scheduleRepository) Update(ctx context.Context, schedule *model.Schedule) error {
	query := `
		UPDATE schedules SET
			name = $2, template_id = $3, schedule_type = $4, run_at = $5,
			cron_expr = $6, start_at = $7, end_at = $8, session = $9,
			daily_limit = $10, params = $11, status = $12, updated_at = $13
		WHERE id = $1
	`
	schedule.UpdatedAt = time.Now()

	// batch_size, batch_delay_seconds and recipients are fixed at creation
	// so a schedule's pacing cannot drift mid-flight.
	result, err := r.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.Name,
		schedule.TemplateID,
		schedule.ScheduleType,
		schedule.RunAt,
		schedule.CronExpr,
		schedule.StartAt,
		schedule.EndAt,
		schedule.Session,
		schedule.DailyLimit,
		schedule.Params,
		schedule.Status,
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("schedule %s not found", schedule.ID)
	}
	return nil
}

func (r *scheduleRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ScheduleStatus, errorMessage *string) error {
	query := `
		UPDATE schedules
		SET status = $2, error_message = $3, updated_at = $4
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, status, errorMessage, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update schedule status: %w", err)
	}
	return nil
}

func (r *scheduleRepository) SetRunTimes(ctx context.Context, id uuid.UUID, nextRun, lastRun *time.Time) error {
	query := `
		UPDATE schedules
		SET next_run = $2,
			last_run = COALESCE($3, last_run),
			updated_at = $4
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, nextRun, lastRun, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set schedule run times: %w", err)
	}
	return nil
}

func (r *scheduleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM schedules WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return nil
}

func (r *scheduleRepository) List(ctx context.Context, status model.ScheduleStatus, limit, offset int) ([]*model.Schedule, error) {
	var schedules []*model.Schedule
	var err error

	if status == "" {
		query := `SELECT * FROM schedules ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		err = r.db.SelectContext(ctx, &schedules, query, limit, offset)
	} else {
		query := `SELECT * FROM schedules WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		err = r.db.SelectContext(ctx, &schedules, query, status, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedules, nil
}

func (r *scheduleRepository) ListActive(ctx context.Context) ([]*model.Schedule, error) {
	query := `
		SELECT * FROM schedules
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC
	`
	var schedules []*model.Schedule
	err := r.db.SelectContext(ctx, &schedules, query, model.ScheduleStatusPending, model.ScheduleStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active schedules: %w", err)
	}
	return schedules, nil
}
