package dispatch

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adirachman/wa-broadcast-api/internal/gateway"
	"github.com/adirachman/wa-broadcast-api/internal/model"
	"github.com/adirachman/wa-broadcast-api/pkg/logger"
	"github.com/adirachman/wa-broadcast-api/pkg/metrics"
)

type fakeScheduleRepo struct {
	schedules map[uuid.UUID]*model.Schedule
}

func (r *fakeScheduleRepo) Create(_ context.Context, s *model.Schedule) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	r.schedules[s.ID] = s
	return nil
}

func (r *fakeScheduleRepo) Get(_ context.Context, id uuid.UUID) (*model.Schedule, error) {
	return r.schedules[id], nil
}

func (r *fakeScheduleRepo) Update(_ context.Context, s *model.Schedule) error {
	r.schedules[s.ID] = s
	return nil
}

func (r *fakeScheduleRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.ScheduleStatus, errorMessage *string) error {
	if s, ok := r.schedules[id]; ok {
		s.Status = status
		s.ErrorMessage = errorMessage
	}
	return nil
}

func (r *fakeScheduleRepo) SetRunTimes(_ context.Context, id uuid.UUID, nextRun, lastRun *time.Time) error {
	return nil
}

func (r *fakeScheduleRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(r.schedules, id)
	return nil
}

func (r *fakeScheduleRepo) List(_ context.Context, _ model.ScheduleStatus, _, _ int) ([]*model.Schedule, error) {
	return nil, nil
}

func (r *fakeScheduleRepo) ListActive(_ context.Context) ([]*model.Schedule, error) {
	return nil, nil
}

type fakeBatchRepo struct {
	batches []*model.ScheduleBatch
}

func (r *fakeBatchRepo) Create(_ context.Context, b *model.ScheduleBatch) error {
	b.ID = uuid.New()
	b.Status = model.BatchStatusProcessing
	r.batches = append(r.batches, b)
	return nil
}

func (r *fakeBatchRepo) Get(_ context.Context, id uuid.UUID) (*model.ScheduleBatch, error) {
	for _, b := range r.batches {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, nil
}

func (r *fakeBatchRepo) GetLatest(_ context.Context, scheduleID uuid.UUID) (*model.ScheduleBatch, error) {
	var latest *model.ScheduleBatch
	for _, b := range r.batches {
		if b.ScheduleID != scheduleID {
			continue
		}
		if latest == nil || b.BatchNumber > latest.BatchNumber {
			latest = b
		}
	}
	return latest, nil
}

func (r *fakeBatchRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.BatchStatus, errorMessage *string) error {
	for _, b := range r.batches {
		if b.ID == id {
			b.Status = status
			b.ErrorMessage = errorMessage
		}
	}
	return nil
}

func (r *fakeBatchRepo) IncrementCounters(_ context.Context, id uuid.UUID, success, failure int) (*model.ScheduleBatch, error) {
	for _, b := range r.batches {
		if b.ID == id {
			b.SuccessCount += success
			b.FailureCount += failure
			return b, nil
		}
	}
	return nil, nil
}

func (r *fakeBatchRepo) ListBySchedule(_ context.Context, scheduleID uuid.UUID) ([]*model.ScheduleBatch, error) {
	var out []*model.ScheduleBatch
	for _, b := range r.batches {
		if b.ScheduleID == scheduleID {
			out = append(out, b)
		}
	}
	return out, nil
}

type fakeQueueRepo struct {
	entries   []*model.QueueEntry
	sentToday int
}

func (r *fakeQueueRepo) CreateMany(_ context.Context, entries []*model.QueueEntry) error {
	for _, e := range entries {
		e.ID = uuid.New()
		e.Status = model.QueueEntryStatusPending
	}
	r.entries = append(r.entries, entries...)
	return nil
}

func (r *fakeQueueRepo) Get(_ context.Context, id uuid.UUID) (*model.QueueEntry, error) {
	for _, e := range r.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (r *fakeQueueRepo) Update(_ context.Context, entry *model.QueueEntry) error { return nil }

func (r *fakeQueueRepo) FetchDue(_ context.Context, _ time.Time, _ int) ([]*model.QueueEntry, error) {
	return nil, nil
}

func (r *fakeQueueRepo) FetchRetryable(_ context.Context, _ int) ([]*model.QueueEntry, error) {
	return nil, nil
}

func (r *fakeQueueRepo) Reschedule(_ context.Context, _ uuid.UUID, _ time.Time) error { return nil }

func (r *fakeQueueRepo) ReleaseStuck(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

func (r *fakeQueueRepo) CountPending(_ context.Context) (int, error) { return len(r.entries), nil }

func (r *fakeQueueRepo) CountUnresolvedByBatch(_ context.Context, _ uuid.UUID) (int, error) {
	return 0, nil
}

func (r *fakeQueueRepo) CountSentSince(_ context.Context, _ string, _ time.Time) (int, error) {
	return 0, nil
}

func (r *fakeQueueRepo) OldestSentSince(_ context.Context, _ string, _ time.Time) (*time.Time, error) {
	return nil, nil
}

func (r *fakeQueueRepo) CountSentTodayBySchedule(_ context.Context, _ uuid.UUID) (int, error) {
	return r.sentToday, nil
}

func (r *fakeQueueRepo) ArchiveTerminalBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeCampaignRepo struct {
	campaigns []*model.Campaign
}

func (r *fakeCampaignRepo) Create(_ context.Context, c *model.Campaign) error {
	c.ID = uuid.New()
	c.Status = model.CampaignStatusRunning
	r.campaigns = append(r.campaigns, c)
	return nil
}

func (r *fakeCampaignRepo) Get(_ context.Context, id uuid.UUID) (*model.Campaign, error) {
	for _, c := range r.campaigns {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (r *fakeCampaignRepo) GetBySchedule(_ context.Context, scheduleID uuid.UUID) (*model.Campaign, error) {
	for _, c := range r.campaigns {
		if c.ScheduleID != nil && *c.ScheduleID == scheduleID {
			return c, nil
		}
	}
	return nil, nil
}

func (r *fakeCampaignRepo) Update(_ context.Context, _ *model.Campaign) error { return nil }

func (r *fakeCampaignRepo) IncrementCounters(_ context.Context, _ uuid.UUID, _, _ int) (*model.Campaign, error) {
	return nil, nil
}

func (r *fakeCampaignRepo) MarkCompleted(_ context.Context, _ uuid.UUID, _ model.CampaignStatus) error {
	return nil
}

func (r *fakeCampaignRepo) List(_ context.Context, _, _ int) ([]*model.Campaign, error) {
	return r.campaigns, nil
}

func (r *fakeCampaignRepo) RecordMessage(_ context.Context, _ *model.MessageRecord) error {
	return nil
}

func (r *fakeCampaignRepo) ListMessages(_ context.Context, _ uuid.UUID) ([]*model.MessageRecord, error) {
	return nil, nil
}

func (r *fakeCampaignRepo) PruneOldest(_ context.Context, _ int) (int64, error) { return 0, nil }

type fakeContactRepo struct {
	contacts map[string]*model.Contact
}

func (r *fakeContactRepo) GetByPhone(_ context.Context, phone string) (*model.Contact, error) {
	return r.contacts[phone], nil
}

func (r *fakeContactRepo) Upsert(_ context.Context, c *model.Contact) error {
	r.contacts[c.Phone] = c
	return nil
}

type fakeTemplateRepo struct {
	templates map[uuid.UUID]*model.Template
}

func (r *fakeTemplateRepo) Create(_ context.Context, tmpl *model.Template) error {
	if tmpl.ID == uuid.Nil {
		tmpl.ID = uuid.New()
	}
	r.templates[tmpl.ID] = tmpl
	return nil
}

func (r *fakeTemplateRepo) Get(_ context.Context, id uuid.UUID) (*model.Template, error) {
	return r.templates[id], nil
}

func (r *fakeTemplateRepo) List(_ context.Context) ([]*model.Template, error) { return nil, nil }

func (r *fakeTemplateRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(r.templates, id)
	return nil
}

type fakeOutboxRepo struct {
	events []*model.OutboxEvent
}

func (r *fakeOutboxRepo) Create(_ context.Context, event *model.OutboxEvent) error {
	event.ID = uuid.New()
	event.Status = model.OutboxStatusPending
	r.events = append(r.events, event)
	return nil
}

func (r *fakeOutboxRepo) GetPendingEvents(_ context.Context, _ int) ([]*model.OutboxEvent, error) {
	return r.events, nil
}

func (r *fakeOutboxRepo) UpdateStatus(_ context.Context, _ uuid.UUID, _ model.OutboxStatus, _ *string, _ *time.Time) error {
	return nil
}

func (r *fakeOutboxRepo) DeleteProcessedBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeOutboxRepo) eventTypes() []string {
	var out []string
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

type fakeGateway struct {
	sessionStatus string
	sessionErr    error
}

func (g *fakeGateway) Send(_ context.Context, _, _, _ string, _ *string) (*gateway.SendResult, error) {
	return &gateway.SendResult{MessageID: "msg-1"}, nil
}

func (g *fakeGateway) SessionStatus(_ context.Context, _ string) (string, error) {
	return g.sessionStatus, g.sessionErr
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	schedules  *fakeScheduleRepo
	batches    *fakeBatchRepo
	queue      *fakeQueueRepo
	campaigns  *fakeCampaignRepo
	contacts   *fakeContactRepo
	templates  *fakeTemplateRepo
	outbox     *fakeOutboxRepo
	gateway    *fakeGateway
	sleeps     []time.Duration
	schedule   *model.Schedule
}

func newFixture(t *testing.T, recipientCount int, cfg Config) *dispatcherFixture {
	t.Helper()

	f := &dispatcherFixture{
		schedules: &fakeScheduleRepo{schedules: make(map[uuid.UUID]*model.Schedule)},
		batches:   &fakeBatchRepo{},
		queue:     &fakeQueueRepo{},
		campaigns: &fakeCampaignRepo{},
		contacts:  &fakeContactRepo{contacts: make(map[string]*model.Contact)},
		templates: &fakeTemplateRepo{templates: make(map[uuid.UUID]*model.Template)},
		outbox:    &fakeOutboxRepo{},
		gateway:   &fakeGateway{sessionStatus: "WORKING"},
	}

	tmpl := &model.Template{Name: "promo", Body: "Hi {name}"}
	require.NoError(t, f.templates.Create(context.Background(), tmpl))

	recipients := make([]string, 0, recipientCount)
	for i := 0; i < recipientCount; i++ {
		recipients = append(recipients, fmt.Sprintf("62811%07d", i))
	}

	f.schedule = &model.Schedule{
		Name:              "launch",
		TemplateID:        tmpl.ID,
		ScheduleType:      model.ScheduleTypeOnce,
		Session:           "main",
		BatchSize:         50,
		BatchDelaySeconds: 60,
		Recipients:        recipients,
		Status:            model.ScheduleStatusActive,
	}
	require.NoError(t, f.schedules.Create(context.Background(), f.schedule))

	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	f.dispatcher = NewDispatcher(
		f.schedules, f.batches, f.queue, f.campaigns, f.contacts, f.templates, f.outbox,
		f.gateway, cfg, log, metrics.New("dispatch_test"),
	)
	f.dispatcher.sleep = func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	return f
}

func TestRunCycleSlicesRecipientsIntoBatches(t *testing.T) {
	f := newFixture(t, 120, Config{MaxAttempts: 3, DefaultPriority: 5})

	require.NoError(t, f.dispatcher.RunCycle(context.Background(), f.schedule.ID))

	require.Len(t, f.batches.batches, 3)
	assert.Equal(t, 50, f.batches.batches[0].RecipientCount)
	assert.Equal(t, 50, f.batches.batches[1].RecipientCount)
	assert.Equal(t, 20, f.batches.batches[2].RecipientCount)
	for i, b := range f.batches.batches {
		assert.Equal(t, i+1, b.BatchNumber)
	}

	// A delay between consecutive batches, none after the last.
	assert.Equal(t, []time.Duration{60 * time.Second, 60 * time.Second}, f.sleeps)

	require.Len(t, f.queue.entries, 120)
	first := f.queue.entries[0]
	assert.Equal(t, "628110000000@c.us", first.ChatID)
	assert.Equal(t, 3, first.MaxAttempts)
	assert.Equal(t, 5, first.Priority)
	assert.Equal(t, model.QueueEntryStatusPending, first.Status)
	assert.Equal(t, 3, f.queue.entries[119].BatchNumber)

	// One campaign for the whole run, sized to the full recipient list.
	require.Len(t, f.campaigns.campaigns, 1)
	assert.Equal(t, 120, f.campaigns.campaigns[0].TotalCount)

	// Recipients remain exactly partitioned, so the schedule is not yet
	// terminal; the next cycle observes the exhausted list and completes it.
	assert.Equal(t, model.ScheduleStatusActive, f.schedule.Status)

	require.NoError(t, f.dispatcher.RunCycle(context.Background(), f.schedule.ID))
	assert.Equal(t, model.ScheduleStatusCompleted, f.schedule.Status)
	assert.Len(t, f.batches.batches, 3)
	assert.Contains(t, f.outbox.eventTypes(), model.EventScheduleCompleted)
}

func TestRunCycleSkipsWhenDailyLimitReached(t *testing.T) {
	f := newFixture(t, 120, Config{MaxAttempts: 3})
	limit := 10
	f.schedule.DailyLimit = &limit
	f.queue.sentToday = 10

	require.NoError(t, f.dispatcher.RunCycle(context.Background(), f.schedule.ID))

	assert.Empty(t, f.batches.batches)
	assert.Empty(t, f.queue.entries)
	assert.Equal(t, model.ScheduleStatusActive, f.schedule.Status)
}

func TestRunCycleAbortsOnDisconnectedSession(t *testing.T) {
	f := newFixture(t, 120, Config{MaxAttempts: 3, SessionPrecheckSize: 10})
	f.gateway.sessionStatus = "STOPPED"

	err := f.dispatcher.RunCycle(context.Background(), f.schedule.ID)
	require.Error(t, err)

	assert.Equal(t, model.ScheduleStatusError, f.schedule.Status)
	require.NotNil(t, f.schedule.ErrorMessage)
	assert.Contains(t, *f.schedule.ErrorMessage, "STOPPED")
	assert.Empty(t, f.queue.entries)
	assert.Contains(t, f.outbox.eventTypes(), model.EventScheduleFailed)
}

func TestRunCycleSkipsPrecheckForSmallBatches(t *testing.T) {
	f := newFixture(t, 5, Config{MaxAttempts: 3, SessionPrecheckSize: 10})
	f.gateway.sessionErr = fmt.Errorf("gateway unreachable")

	require.NoError(t, f.dispatcher.RunCycle(context.Background(), f.schedule.ID))
	assert.Len(t, f.queue.entries, 5)
}

func TestRunCycleRendersTemplatePerContact(t *testing.T) {
	f := newFixture(t, 2, Config{MaxAttempts: 3})
	known := f.schedule.Recipients[0]
	require.NoError(t, f.contacts.Upsert(context.Background(), &model.Contact{
		Phone: known, Name: "Budi", Platform: "whatsapp",
	}))

	require.NoError(t, f.dispatcher.RunCycle(context.Background(), f.schedule.ID))

	require.Len(t, f.queue.entries, 2)
	assert.Equal(t, "Hi Budi", f.queue.entries[0].Content)
	assert.Equal(t, "Hi there", f.queue.entries[1].Content)
}

func TestRunCycleStopsOnPausedSchedule(t *testing.T) {
	f := newFixture(t, 120, Config{MaxAttempts: 3})
	f.schedule.Status = model.ScheduleStatusPaused

	require.NoError(t, f.dispatcher.RunCycle(context.Background(), f.schedule.ID))
	assert.Empty(t, f.batches.batches)
	assert.Equal(t, model.ScheduleStatusPaused, f.schedule.Status)
}
