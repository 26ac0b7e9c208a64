package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adirachman/wa-broadcast-api/internal/model"
	"github.com/adirachman/wa-broadcast-api/internal/repository"
	"github.com/adirachman/wa-broadcast-api/internal/service/schedule"
	"github.com/adirachman/wa-broadcast-api/pkg/logger"
	"github.com/adirachman/wa-broadcast-api/pkg/metrics"
)

// Dispatcher runs one full batch cycle for a schedule: the next batch, its
// delay-chained successors, and completion bookkeeping.
type Dispatcher interface {
	RunCycle(ctx context.Context, scheduleID uuid.UUID) error
}

// timerTask is one armed timer. Cancelling is race-free: the fire path
// checks the stop channel before running.
type timerTask struct {
	timer *time.Timer
	stop  chan struct{}
	once  sync.Once
}

func (t *timerTask) cancel() {
	t.once.Do(func() {
		t.timer.Stop()
		close(t.stop)
	})
}

// Service maps each active schedule to exactly one pending timer and fires
// the dispatcher when due. All timer and lock state is instance-owned so
// tests can run isolated schedulers.
type Service struct {
	repo       repository.ScheduleRepository
	dispatcher Dispatcher
	logger     *logger.Logger
	metrics    *metrics.Metrics

	mu     sync.Mutex
	timers map[uuid.UUID]*timerTask
	// executing is the execution-lock set: presence means a batch run for
	// that schedule is in flight. Callers that find it held skip, never wait.
	executing map[uuid.UUID]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(repo repository.ScheduleRepository, dispatcher Dispatcher, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:       repo,
		dispatcher: dispatcher,
		logger:     log,
		metrics:    m,
		timers:     make(map[uuid.UUID]*timerTask),
		executing:  make(map[uuid.UUID]struct{}),
	}
}

// Start re-registers every pending/active schedule from the store, so
// timers survive a process restart.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	schedules, err := s.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active schedules: %w", err)
	}

	for _, sched := range schedules {
		if err := s.Register(sched); err != nil {
			s.logger.Error(err, "failed to register schedule", "schedule_id", sched.ID.String())
		}
	}

	s.logger.Info("trigger scheduler started", "schedules", len(schedules))
	return nil
}

// Stop cancels every timer and waits for in-flight runs to finish.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	for id, task := range s.timers {
		task.cancel()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("trigger scheduler stopped")
}

// Register computes the next fire time and arms a timer for it.
// Re-registering first cancels any existing timer for the same id, keeping
// the at-most-one-timer invariant across edits.
func (s *Service) Register(sched *model.Schedule) error {
	s.Cancel(sched.ID)

	now := time.Now()
	var fireAt time.Time

	switch sched.ScheduleType {
	case model.ScheduleTypeOnce:
		if sched.RunAt == nil {
			return s.failSchedule(sched.ID, "one-time schedule has no run_at")
		}
		if sched.RunAt.Before(now) {
			// Already in the past: nothing to fire.
			return s.completeSchedule(sched.ID)
		}
		fireAt = *sched.RunAt

	case model.ScheduleTypeRecurring:
		if sched.CronExpr == nil {
			return s.failSchedule(sched.ID, "recurring schedule has no cron expression")
		}
		if err := schedule.ValidateCronExpr(*sched.CronExpr); err != nil {
			return s.failSchedule(sched.ID, err.Error())
		}
		if sched.EndAt != nil && sched.EndAt.Before(now) {
			return s.completeSchedule(sched.ID)
		}

		from := now
		if sched.StartAt != nil && sched.StartAt.After(now) {
			from = *sched.StartAt
		}
		next, err := schedule.NextCronTime(*sched.CronExpr, from)
		if err != nil {
			return s.failSchedule(sched.ID, err.Error())
		}
		if sched.EndAt != nil && next.After(*sched.EndAt) {
			return s.completeSchedule(sched.ID)
		}
		fireAt = next

	default:
		return s.failSchedule(sched.ID, fmt.Sprintf("unknown schedule type %q", sched.ScheduleType))
	}

	s.arm(sched.ID, fireAt)

	if err := s.repo.UpdateStatus(context.Background(), sched.ID, model.ScheduleStatusActive, nil); err != nil {
		return fmt.Errorf("failed to activate schedule: %w", err)
	}
	if err := s.repo.SetRunTimes(context.Background(), sched.ID, &fireAt, nil); err != nil {
		return fmt.Errorf("failed to persist next run: %w", err)
	}

	s.logger.Info("schedule registered",
		"schedule_id", sched.ID.String(),
		"type", string(sched.ScheduleType),
		"fire_at", fireAt.Format(time.RFC3339))
	return nil
}

// RunNow fires a schedule immediately, outside its timer. The armed timer
// is cancelled first so the fire path can re-arm without stacking a second
// timer; the execution lock still applies.
func (s *Service) RunNow(id uuid.UUID) {
	s.Cancel(id)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.fire(id)
	}()
}

// Cancel stops and removes the timer for a schedule; idempotent.
func (s *Service) Cancel(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task, ok := s.timers[id]; ok {
		task.cancel()
		delete(s.timers, id)
	}
}

// Registered reports whether a timer is currently armed for the schedule.
func (s *Service) Registered(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

func (s *Service) arm(id uuid.UUID, fireAt time.Time) {
	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}

	task := &timerTask{
		timer: time.NewTimer(delay),
		stop:  make(chan struct{}),
	}

	s.mu.Lock()
	if stale, ok := s.timers[id]; ok {
		// A rearm can race a handler re-registration for the same id; the
		// displaced timer must be cancelled or it would fire a second cycle.
		stale.cancel()
	}
	s.timers[id] = task
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-task.stop:
			return
		case <-s.ctxDone():
			return
		case <-task.timer.C:
			s.fire(id)
		}
	}()
}

func (s *Service) ctxDone() <-chan struct{} {
	if s.ctx != nil {
		return s.ctx.Done()
	}
	return nil
}

// fire runs one batch cycle under the execution lock and, for recurring
// schedules, re-arms the next fire.
func (s *Service) fire(id uuid.UUID) {
	if !s.tryLock(id) {
		// A previous run of this schedule is still executing.
		s.metrics.TriggerFires.WithLabelValues("skipped_overlap").Inc()
		s.logger.Warn("trigger fire skipped, previous run still executing", "schedule_id", id.String())
		s.rearmIfRecurring(id)
		return
	}

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now()
	if err := s.repo.SetRunTimes(ctx, id, nil, &now); err != nil {
		s.logger.Error(err, "failed to persist last run", "schedule_id", id.String())
	}

	err := s.dispatcher.RunCycle(ctx, id)
	s.unlock(id)

	if err != nil {
		s.metrics.TriggerFires.WithLabelValues("error").Inc()
		s.logger.Error(err, "batch cycle failed", "schedule_id", id.String())
		// The timer is removed; the schedule needs manual re-registration.
		s.Cancel(id)
		msg := err.Error()
		if updateErr := s.repo.UpdateStatus(ctx, id, model.ScheduleStatusError, &msg); updateErr != nil {
			s.logger.Error(updateErr, "failed to mark schedule errored", "schedule_id", id.String())
		}
		return
	}

	s.metrics.TriggerFires.WithLabelValues("fired").Inc()
	s.rearmIfRecurring(id)
}

// rearmIfRecurring arms the next cron fire unless the schedule has reached
// a terminal state in the meantime.
func (s *Service) rearmIfRecurring(id uuid.UUID) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	sched, err := s.repo.Get(ctx, id)
	if err != nil || sched == nil {
		if err != nil {
			s.logger.Error(err, "failed to re-read schedule", "schedule_id", id.String())
		}
		return
	}
	if sched.ScheduleType != model.ScheduleTypeRecurring {
		s.Cancel(id)
		return
	}
	if sched.CronExpr == nil {
		// Only reachable when the row was edited behind the service layer.
		s.Cancel(id)
		if err := s.failSchedule(id, "recurring schedule has no cron expression"); err != nil {
			s.logger.Error(err, "failed to fail schedule", "schedule_id", id.String())
		}
		return
	}
	if sched.Status.IsTerminal() || sched.Status == model.ScheduleStatusPaused || sched.Status == model.ScheduleStatusError {
		s.Cancel(id)
		return
	}

	now := time.Now()
	if sched.EndAt != nil && sched.EndAt.Before(now) {
		s.Cancel(id)
		if err := s.repo.UpdateStatus(ctx, id, model.ScheduleStatusCompleted, nil); err != nil {
			s.logger.Error(err, "failed to complete schedule", "schedule_id", id.String())
		}
		return
	}

	next, err := schedule.NextCronTime(*sched.CronExpr, now)
	if err != nil {
		s.logger.Error(err, "failed to compute next fire", "schedule_id", id.String())
		return
	}
	if sched.EndAt != nil && next.After(*sched.EndAt) {
		s.Cancel(id)
		if err := s.repo.UpdateStatus(ctx, id, model.ScheduleStatusCompleted, nil); err != nil {
			s.logger.Error(err, "failed to complete schedule", "schedule_id", id.String())
		}
		return
	}

	s.arm(id, next)
	if err := s.repo.SetRunTimes(ctx, id, &next, nil); err != nil {
		s.logger.Error(err, "failed to persist next run", "schedule_id", id.String())
	}
}

func (s *Service) tryLock(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.executing[id]; held {
		return false
	}
	s.executing[id] = struct{}{}
	return true
}

func (s *Service) unlock(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.executing, id)
}

func (s *Service) failSchedule(id uuid.UUID, reason string) error {
	s.logger.Warn("schedule rejected", "schedule_id", id.String(), "reason", reason)
	if err := s.repo.UpdateStatus(context.Background(), id, model.ScheduleStatusFailed, &reason); err != nil {
		return fmt.Errorf("failed to mark schedule failed: %w", err)
	}
	return nil
}

func (s *Service) completeSchedule(id uuid.UUID) error {
	if err := s.repo.UpdateStatus(context.Background(), id, model.ScheduleStatusCompleted, nil); err != nil {
		return fmt.Errorf("failed to mark schedule completed: %w", err)
	}
	return nil
}
