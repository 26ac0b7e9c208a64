package scheduler

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adirachman/wa-broadcast-api/internal/model"
	"github.com/adirachman/wa-broadcast-api/pkg/logger"
	"github.com/adirachman/wa-broadcast-api/pkg/metrics"
)

type fakeScheduleRepo struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*model.Schedule
}

func newFakeScheduleRepo() *fakeScheduleRepo {
	return &fakeScheduleRepo{schedules: make(map[uuid.UUID]*model.Schedule)}
}

func (r *fakeScheduleRepo) Create(_ context.Context, s *model.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	r.schedules[s.ID] = s
	return nil
}

func (r *fakeScheduleRepo) Get(_ context.Context, id uuid.UUID) (*model.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (r *fakeScheduleRepo) Update(_ context.Context, s *model.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules[s.ID] = s
	return nil
}

func (r *fakeScheduleRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.ScheduleStatus, errorMessage *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.schedules[id]; ok {
		s.Status = status
		s.ErrorMessage = errorMessage
	}
	return nil
}

func (r *fakeScheduleRepo) SetRunTimes(_ context.Context, id uuid.UUID, nextRun, lastRun *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.schedules[id]; ok {
		if nextRun != nil {
			s.NextRun = nextRun
		}
		if lastRun != nil {
			s.LastRun = lastRun
		}
	}
	return nil
}

func (r *fakeScheduleRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.schedules, id)
	return nil
}

func (r *fakeScheduleRepo) List(_ context.Context, _ model.ScheduleStatus, _, _ int) ([]*model.Schedule, error) {
	return nil, nil
}

func (r *fakeScheduleRepo) ListActive(_ context.Context) ([]*model.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Schedule
	for _, s := range r.schedules {
		if s.Status == model.ScheduleStatusPending || s.Status == model.ScheduleStatusActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeScheduleRepo) status(id uuid.UUID) model.ScheduleStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.schedules[id].Status
}

// fakeDispatcher records cycles and can hold them open to provoke overlap.
type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []uuid.UUID
	entered chan struct{}
	block   chan struct{}
	err     error
}

func (d *fakeDispatcher) RunCycle(_ context.Context, scheduleID uuid.UUID) error {
	d.mu.Lock()
	d.calls = append(d.calls, scheduleID)
	d.mu.Unlock()
	if d.entered != nil {
		d.entered <- struct{}{}
	}
	if d.block != nil {
		<-d.block
	}
	return d.err
}

func (d *fakeDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func newTestScheduler(t *testing.T, dispatcher *fakeDispatcher) (*Service, *fakeScheduleRepo, *metrics.Metrics) {
	t.Helper()
	repo := newFakeScheduleRepo()
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	m := metrics.New("scheduler_test")
	svc := NewService(repo, dispatcher, log, m)
	require.NoError(t, svc.Start(context.Background()))
	return svc, repo, m
}

func onceSchedule(repo *fakeScheduleRepo, runAt time.Time) *model.Schedule {
	s := &model.Schedule{
		Name:         "launch",
		ScheduleType: model.ScheduleTypeOnce,
		RunAt:        &runAt,
		Session:      "main",
		BatchSize:    50,
		Recipients:   []string{"628111000001"},
		Status:       model.ScheduleStatusPending,
	}
	_ = repo.Create(context.Background(), s)
	return s
}

func TestRegisterArmsFutureOnce(t *testing.T) {
	svc, repo, _ := newTestScheduler(t, &fakeDispatcher{})
	defer svc.Stop()

	s := onceSchedule(repo, time.Now().Add(time.Hour))
	require.NoError(t, svc.Register(s))

	assert.True(t, svc.Registered(s.ID))
	assert.Equal(t, model.ScheduleStatusActive, repo.status(s.ID))
}

func TestRegisterPastOnceCompletesImmediately(t *testing.T) {
	svc, repo, _ := newTestScheduler(t, &fakeDispatcher{})
	defer svc.Stop()

	s := onceSchedule(repo, time.Now().Add(-time.Hour))
	require.NoError(t, svc.Register(s))

	assert.False(t, svc.Registered(s.ID))
	assert.Equal(t, model.ScheduleStatusCompleted, repo.status(s.ID))
}

func TestRegisterInvalidCronFailsSchedule(t *testing.T) {
	svc, repo, _ := newTestScheduler(t, &fakeDispatcher{})
	defer svc.Stop()

	expr := "every tuesday"
	s := &model.Schedule{
		Name:         "digest",
		ScheduleType: model.ScheduleTypeRecurring,
		CronExpr:     &expr,
		Session:      "main",
		Recipients:   []string{"628111000001"},
		Status:       model.ScheduleStatusPending,
	}
	require.NoError(t, repo.Create(context.Background(), s))

	require.NoError(t, svc.Register(s))
	assert.False(t, svc.Registered(s.ID))
	assert.Equal(t, model.ScheduleStatusFailed, repo.status(s.ID))
}

func TestRegisterExpiredWindowCompletes(t *testing.T) {
	svc, repo, _ := newTestScheduler(t, &fakeDispatcher{})
	defer svc.Stop()

	expr := "0 9 * * 1"
	endAt := time.Now().Add(-time.Minute)
	s := &model.Schedule{
		Name:         "digest",
		ScheduleType: model.ScheduleTypeRecurring,
		CronExpr:     &expr,
		EndAt:        &endAt,
		Session:      "main",
		Recipients:   []string{"628111000001"},
		Status:       model.ScheduleStatusPending,
	}
	require.NoError(t, repo.Create(context.Background(), s))

	require.NoError(t, svc.Register(s))
	assert.False(t, svc.Registered(s.ID))
	assert.Equal(t, model.ScheduleStatusCompleted, repo.status(s.ID))
}

func TestRunNowFiresOneCycle(t *testing.T) {
	dispatcher := &fakeDispatcher{entered: make(chan struct{}, 1)}
	svc, repo, _ := newTestScheduler(t, dispatcher)

	s := onceSchedule(repo, time.Now().Add(time.Hour))
	require.NoError(t, svc.Register(s))

	svc.RunNow(s.ID)
	select {
	case <-dispatcher.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher was never invoked")
	}

	svc.Stop()
	assert.Equal(t, 1, dispatcher.callCount())
	assert.NotNil(t, repo.schedules[s.ID].LastRun)
}

func TestOverlappingFireIsSkippedNotQueued(t *testing.T) {
	dispatcher := &fakeDispatcher{
		entered: make(chan struct{}, 2),
		block:   make(chan struct{}),
	}
	svc, repo, m := newTestScheduler(t, dispatcher)

	s := onceSchedule(repo, time.Now().Add(time.Hour))
	require.NoError(t, svc.Register(s))

	svc.RunNow(s.ID)
	select {
	case <-dispatcher.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never started")
	}

	// Second fire while the first still holds the execution lock.
	svc.RunNow(s.ID)
	skipped := m.TriggerFires.WithLabelValues("skipped_overlap")
	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(skipped) < 1 {
		if time.Now().After(deadline) {
			t.Fatal("overlapping fire was never skipped")
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(dispatcher.block)
	svc.Stop()
	assert.Equal(t, 1, dispatcher.callCount())
}

func TestFailedCycleMarksScheduleErrored(t *testing.T) {
	dispatcher := &fakeDispatcher{
		entered: make(chan struct{}, 1),
		err:     fmt.Errorf("session precheck failed"),
	}
	svc, repo, m := newTestScheduler(t, dispatcher)

	s := onceSchedule(repo, time.Now().Add(time.Hour))
	require.NoError(t, svc.Register(s))

	svc.RunNow(s.ID)
	select {
	case <-dispatcher.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher was never invoked")
	}

	svc.Stop()
	assert.Equal(t, model.ScheduleStatusError, repo.status(s.ID))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TriggerFires.WithLabelValues("error")))
	assert.False(t, svc.Registered(s.ID))
}

func TestArmDisplacesExistingTimer(t *testing.T) {
	dispatcher := &fakeDispatcher{entered: make(chan struct{}, 2)}
	svc, repo, _ := newTestScheduler(t, dispatcher)

	s := onceSchedule(repo, time.Now().Add(time.Hour))

	// Two arms for the same id, as when a recurring rearm races a handler
	// re-registration. Only the surviving timer may fire.
	svc.arm(s.ID, time.Now().Add(10*time.Millisecond))
	svc.arm(s.ID, time.Now().Add(10*time.Millisecond))

	select {
	case <-dispatcher.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("armed timer never fired")
	}

	svc.Stop()
	assert.Equal(t, 1, dispatcher.callCount())
}

func TestRearmWithoutCronFailsSafely(t *testing.T) {
	svc, repo, _ := newTestScheduler(t, &fakeDispatcher{})
	defer svc.Stop()

	s := &model.Schedule{
		Name:         "digest",
		ScheduleType: model.ScheduleTypeRecurring,
		Session:      "main",
		Recipients:   []string{"628111000001"},
		Status:       model.ScheduleStatusActive,
	}
	require.NoError(t, repo.Create(context.Background(), s))

	svc.rearmIfRecurring(s.ID)

	assert.False(t, svc.Registered(s.ID))
	assert.Equal(t, model.ScheduleStatusFailed, repo.status(s.ID))
}

func TestCancelIsIdempotent(t *testing.T) {
	svc, repo, _ := newTestScheduler(t, &fakeDispatcher{})
	defer svc.Stop()

	s := onceSchedule(repo, time.Now().Add(time.Hour))
	require.NoError(t, svc.Register(s))
	require.True(t, svc.Registered(s.ID))

	svc.Cancel(s.ID)
	assert.False(t, svc.Registered(s.ID))
	svc.Cancel(s.ID)
	assert.False(t, svc.Registered(s.ID))
}
