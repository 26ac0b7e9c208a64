package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/adirachman/wa-broadcast-api/internal/model"
)

// All repository interfaces in one file
type (
	// ScheduleRepository handles broadcast schedule definitions
	ScheduleRepository interface {
		Create(ctx context.Context, schedule *model.Schedule) error
		Get(ctx context.Context, id uuid.UUID) (*model.Schedule, error)
		Update(ctx context.Context, schedule *model.Schedule) error
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.ScheduleStatus, errorMessage *string) error
		SetRunTimes(ctx context.Context, id uuid.UUID, nextRun, lastRun *time.Time) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, status model.ScheduleStatus, limit, offset int) ([]*model.Schedule, error)
		ListActive(ctx context.Context) ([]*model.Schedule, error)
	}

	// BatchRepository handles per-schedule recipient batches
	BatchRepository interface {
		Create(ctx context.Context, batch *model.ScheduleBatch) error
		Get(ctx context.Context, id uuid.UUID) (*model.ScheduleBatch, error)
		GetLatest(ctx context.Context, scheduleID uuid.UUID) (*model.ScheduleBatch, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.BatchStatus, errorMessage *string) error
		IncrementCounters(ctx context.Context, id uuid.UUID, success, failure int) (*model.ScheduleBatch, error)
		ListBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]*model.ScheduleBatch, error)
	}

	// QueueRepository handles the delivery queue
	QueueRepository interface {
		CreateMany(ctx context.Context, entries []*model.QueueEntry) error
		Get(ctx context.Context, id uuid.UUID) (*model.QueueEntry, error)
		Update(ctx context.Context, entry *model.QueueEntry) error
		// FetchDue selects pending entries due at or before now, ordered by
		// descending priority then ascending scheduled time, and marks them
		// processing in the same statement so a tick never double-dispatches.
		FetchDue(ctx context.Context, now time.Time, limit int) ([]*model.QueueEntry, error)
		// FetchRetryable selects failed entries still within their retry
		// budget, ordered by priority then age.
		FetchRetryable(ctx context.Context, limit int) ([]*model.QueueEntry, error)
		Reschedule(ctx context.Context, id uuid.UUID, at time.Time) error
		// ReleaseStuck returns entries stranded in processing (fetched by a
		// worker that died before resolving them) to pending.
		ReleaseStuck(ctx context.Context, olderThan time.Time) (int64, error)
		CountPending(ctx context.Context) (int, error)
		CountUnresolvedByBatch(ctx context.Context, batchID uuid.UUID) (int, error)
		CountSentSince(ctx context.Context, session string, since time.Time) (int, error)
		OldestSentSince(ctx context.Context, session string, since time.Time) (*time.Time, error)
		CountSentTodayBySchedule(ctx context.Context, scheduleID uuid.UUID) (int, error)
		ArchiveTerminalBefore(ctx context.Context, before time.Time) (int64, error)
	}

	// CampaignRepository handles execution history aggregates
	CampaignRepository interface {
		Create(ctx context.Context, campaign *model.Campaign) error
		Get(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
		GetBySchedule(ctx context.Context, scheduleID uuid.UUID) (*model.Campaign, error)
		Update(ctx context.Context, campaign *model.Campaign) error
		IncrementCounters(ctx context.Context, id uuid.UUID, success, failure int) (*model.Campaign, error)
		MarkCompleted(ctx context.Context, id uuid.UUID, status model.CampaignStatus) error
		List(ctx context.Context, limit, offset int) ([]*model.Campaign, error)
		RecordMessage(ctx context.Context, record *model.MessageRecord) error
		ListMessages(ctx context.Context, campaignID uuid.UUID) ([]*model.MessageRecord, error)
		// PruneOldest deletes campaigns (and their messages) beyond keep,
		// oldest first, returning the number of campaigns removed.
		PruneOldest(ctx context.Context, keep int) (int64, error)
	}

	// ContactRepository resolves recipient metadata by normalized phone
	ContactRepository interface {
		GetByPhone(ctx context.Context, phone string) (*model.Contact, error)
		Upsert(ctx context.Context, contact *model.Contact) error
	}

	// TemplateRepository handles message templates
	TemplateRepository interface {
		Create(ctx context.Context, template *model.Template) error
		Get(ctx context.Context, id uuid.UUID) (*model.Template, error)
		List(ctx context.Context) ([]*model.Template, error)
		Delete(ctx context.Context, id uuid.UUID) error
	}

	// OutboxRepository handles lifecycle events pending publication
	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
