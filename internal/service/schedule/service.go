package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/adirachman/wa-broadcast-api/internal/model"
	"github.com/adirachman/wa-broadcast-api/internal/repository"
	apperrors "github.com/adirachman/wa-broadcast-api/pkg/errors"
)

// Pacing bounds, applied once at creation.
const (
	MinBatchSize         = 1
	MaxBatchSize         = 200
	MinBatchDelaySeconds = 60
)

// cronParser accepts the standard five-field form (minute, hour,
// day-of-month, month, day-of-week).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// ValidateCronExpr rejects anything but a well-formed five-field expression.
func ValidateCronExpr(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NextCronTime returns the next fire time strictly after t.
func NextCronTime(expr string, t time.Time) (time.Time, error) {
	spec, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return spec.Next(t), nil
}

type Servicer interface {
	Create(ctx context.Context, schedule *model.Schedule) error
	Get(ctx context.Context, id uuid.UUID) (*model.Schedule, error)
	Update(ctx context.Context, schedule *model.Schedule) error
	Pause(ctx context.Context, id uuid.UUID) error
	Resume(ctx context.Context, id uuid.UUID) (*model.Schedule, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, status model.ScheduleStatus, page model.Pagination) ([]*model.Schedule, error)
}

type Service struct {
	repo         repository.ScheduleRepository
	templateRepo repository.TemplateRepository
}

func NewService(repo repository.ScheduleRepository, templateRepo repository.TemplateRepository) *Service {
	return &Service{repo: repo, templateRepo: templateRepo}
}

// Create validates the trigger spec, clamps pacing to its bounds and
// persists the schedule in pending state. Recipients and pacing are fixed
// from here on.
func (s *Service) Create(ctx context.Context, schedule *model.Schedule) error {
	if err := s.validate(ctx, schedule); err != nil {
		return err
	}

	schedule.BatchSize = clamp(schedule.BatchSize, MinBatchSize, MaxBatchSize)
	if schedule.BatchDelaySeconds < MinBatchDelaySeconds {
		schedule.BatchDelaySeconds = MinBatchDelaySeconds
	}

	if err := s.repo.Create(ctx, schedule); err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

func (s *Service) validate(ctx context.Context, schedule *model.Schedule) error {
	if len(schedule.Recipients) == 0 {
		return apperrors.BadRequest("schedule requires at least one recipient", nil)
	}
	if schedule.Session == "" {
		return apperrors.BadRequest("schedule requires a session", nil)
	}

	switch schedule.ScheduleType {
	case model.ScheduleTypeOnce:
		if schedule.RunAt == nil {
			return apperrors.BadRequest("one-time schedule requires run_at", nil)
		}
	case model.ScheduleTypeRecurring:
		if schedule.CronExpr == nil {
			return apperrors.BadRequest("recurring schedule requires cron_expr", nil)
		}
		if err := ValidateCronExpr(*schedule.CronExpr); err != nil {
			return apperrors.BadRequest(err.Error(), err)
		}
		if schedule.StartAt != nil && schedule.EndAt != nil && !schedule.EndAt.After(*schedule.StartAt) {
			return apperrors.BadRequest("end_at must be after start_at", nil)
		}
	default:
		return apperrors.BadRequest(fmt.Sprintf("unknown schedule type %q", schedule.ScheduleType), nil)
	}

	tmpl, err := s.templateRepo.Get(ctx, schedule.TemplateID)
	if err != nil {
		return apperrors.Internal(err)
	}
	if tmpl == nil {
		return apperrors.NotFound("template", nil)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Schedule, error) {
	schedule, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if schedule == nil {
		return nil, apperrors.NotFound("schedule", nil)
	}
	return schedule, nil
}

// Update persists edits to a non-terminal schedule. The caller is expected
// to re-register the schedule with the trigger scheduler afterwards.
func (s *Service) Update(ctx context.Context, schedule *model.Schedule) error {
	existing, err := s.Get(ctx, schedule.ID)
	if err != nil {
		return err
	}
	if existing.Status.IsTerminal() {
		return apperrors.NewConflict("cannot edit a completed or failed schedule", nil)
	}
	if err := s.validate(ctx, schedule); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, schedule); err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

func (s *Service) Pause(ctx context.Context, id uuid.UUID) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.Status.IsTerminal() {
		return apperrors.NewConflict("cannot pause a completed or failed schedule", nil)
	}
	if err := s.repo.UpdateStatus(ctx, id, model.ScheduleStatusPaused, nil); err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

func (s *Service) Resume(ctx context.Context, id uuid.UUID) (*model.Schedule, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status != model.ScheduleStatusPaused {
		return nil, apperrors.NewConflict("only paused schedules can be resumed", nil)
	}
	if err := s.repo.UpdateStatus(ctx, id, model.ScheduleStatusPending, nil); err != nil {
		return nil, apperrors.Internal(err)
	}
	existing.Status = model.ScheduleStatusPending
	return existing, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

func (s *Service) List(ctx context.Context, status model.ScheduleStatus, page model.Pagination) ([]*model.Schedule, error) {
	if page.Page < 1 {
		page.Page = 1
	}
	if page.PageSize < 1 {
		page.PageSize = 20
	}
	if page.PageSize > 100 {
		page.PageSize = 100
	}

	schedules, err := s.repo.List(ctx, status, page.PageSize, (page.Page-1)*page.PageSize)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return schedules, nil
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
