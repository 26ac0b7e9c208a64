package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/adirachman/wa-broadcast-api/internal/gateway"
	"github.com/adirachman/wa-broadcast-api/internal/model"
	"github.com/adirachman/wa-broadcast-api/internal/repository"
	"github.com/adirachman/wa-broadcast-api/internal/service/template"
	"github.com/adirachman/wa-broadcast-api/pkg/logger"
	"github.com/adirachman/wa-broadcast-api/pkg/metrics"
)

// Config tunes the dispatcher. SessionPrecheckSize is the batch size at or
// above which session connectivity is verified before materializing the
// batch; zero disables the check.
type Config struct {
	MaxAttempts         int
	DefaultPriority     int
	SessionPrecheckSize int
	ContactCacheTTL     time.Duration
}

// Dispatcher materializes schedule batches and their queue entries. One
// RunCycle call covers a full trigger fire: the next due batch plus all
// delay-chained successors, run under the caller's execution lock.
type Dispatcher struct {
	scheduleRepo repository.ScheduleRepository
	batchRepo    repository.BatchRepository
	queueRepo    repository.QueueRepository
	campaignRepo repository.CampaignRepository
	contactRepo  repository.ContactRepository
	templateRepo repository.TemplateRepository
	outboxRepo   repository.OutboxRepository
	gateway      gateway.Client
	config       Config
	contactCache *cache.Cache
	logger       *logger.Logger
	metrics      *metrics.Metrics

	// sleep is swapped out in tests to skip real batch delays.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(
	scheduleRepo repository.ScheduleRepository,
	batchRepo repository.BatchRepository,
	queueRepo repository.QueueRepository,
	campaignRepo repository.CampaignRepository,
	contactRepo repository.ContactRepository,
	templateRepo repository.TemplateRepository,
	outboxRepo repository.OutboxRepository,
	gw gateway.Client,
	config Config,
	log *logger.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	ttl := config.ContactCacheTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &Dispatcher{
		scheduleRepo: scheduleRepo,
		batchRepo:    batchRepo,
		queueRepo:    queueRepo,
		campaignRepo: campaignRepo,
		contactRepo:  contactRepo,
		templateRepo: templateRepo,
		outboxRepo:   outboxRepo,
		gateway:      gw,
		config:       config,
		contactCache: cache.New(ttl, 2*ttl),
		logger:       log,
		metrics:      m,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RunCycle dispatches batches for the schedule until the recipient list is
// exhausted, the daily limit is hit, or an error aborts the cycle. Chained
// batches are paced by the schedule's batch delay.
func (d *Dispatcher) RunCycle(ctx context.Context, scheduleID uuid.UUID) error {
	for {
		more, delay, err := d.dispatchNext(ctx, scheduleID)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		if err := d.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// dispatchNext materializes exactly one batch. It reports whether recipients
// remain beyond it and the delay before the next batch may start.
func (d *Dispatcher) dispatchNext(ctx context.Context, scheduleID uuid.UUID) (bool, time.Duration, error) {
	sched, err := d.scheduleRepo.Get(ctx, scheduleID)
	if err != nil {
		return false, 0, fmt.Errorf("failed to re-read schedule: %w", err)
	}
	if sched == nil {
		return false, 0, fmt.Errorf("schedule %s no longer exists", scheduleID)
	}
	if sched.Status.IsTerminal() || sched.Status == model.ScheduleStatusPaused {
		return false, 0, nil
	}

	latest, err := d.batchRepo.GetLatest(ctx, scheduleID)
	if err != nil {
		return false, 0, fmt.Errorf("failed to read latest batch: %w", err)
	}
	batchNumber := 1
	if latest != nil {
		batchNumber = latest.BatchNumber + 1
	}

	if sched.DailyLimit != nil && *sched.DailyLimit > 0 {
		sentToday, err := d.queueRepo.CountSentTodayBySchedule(ctx, scheduleID)
		if err != nil {
			return false, 0, fmt.Errorf("failed to count daily sends: %w", err)
		}
		if sentToday >= *sched.DailyLimit {
			// No new batch this cycle; the schedule stays active for the
			// next trigger.
			d.logger.Info("daily limit reached, skipping cycle",
				"schedule_id", scheduleID.String(), "sent_today", sentToday)
			return false, 0, nil
		}
	}

	recipients := sched.RecipientSlice(batchNumber)
	if len(recipients) == 0 {
		// Normal termination for a finite recipient list.
		if err := d.scheduleRepo.UpdateStatus(ctx, scheduleID, model.ScheduleStatusCompleted, nil); err != nil {
			return false, 0, fmt.Errorf("failed to complete schedule: %w", err)
		}
		d.emitEvent(ctx, model.EventScheduleCompleted, sched)
		return false, 0, nil
	}

	if d.config.SessionPrecheckSize > 0 && len(recipients) >= d.config.SessionPrecheckSize {
		status, err := d.gateway.SessionStatus(ctx, sched.Session)
		if err != nil {
			return false, 0, d.abortBatch(ctx, sched, nil, fmt.Errorf("session precheck failed: %w", err))
		}
		if !sessionUsable(status) {
			return false, 0, d.abortBatch(ctx, sched, nil, fmt.Errorf("session %s is %s", sched.Session, status))
		}
	}

	tmpl, err := d.templateRepo.Get(ctx, sched.TemplateID)
	if err != nil {
		return false, 0, d.abortBatch(ctx, sched, nil, fmt.Errorf("failed to load template: %w", err))
	}
	if tmpl == nil {
		return false, 0, d.abortBatch(ctx, sched, nil, fmt.Errorf("template %s missing", sched.TemplateID))
	}

	batch := &model.ScheduleBatch{
		ScheduleID:     scheduleID,
		BatchNumber:    batchNumber,
		RecipientCount: len(recipients),
	}
	if err := d.batchRepo.Create(ctx, batch); err != nil {
		return false, 0, d.abortBatch(ctx, sched, nil, fmt.Errorf("failed to create batch: %w", err))
	}

	campaign, err := d.ensureCampaign(ctx, sched)
	if err != nil {
		return false, 0, d.abortBatch(ctx, sched, batch, err)
	}

	now := time.Now()
	entries := make([]*model.QueueEntry, 0, len(recipients))
	for _, recipient := range recipients {
		contact := d.resolveContact(ctx, recipient)
		content := template.Render(tmpl.Body, contact, sched.Params)

		entries = append(entries, &model.QueueEntry{
			ScheduleID:   &sched.ID,
			BatchID:      &batch.ID,
			CampaignID:   &campaign.ID,
			BatchNumber:  batchNumber,
			Session:      sched.Session,
			Recipient:    recipient,
			ChatID:       chatID(recipient),
			Content:      content,
			ImageRef:     tmpl.ImageRef,
			Priority:     d.config.DefaultPriority,
			ScheduledFor: now,
			MaxAttempts:  d.config.MaxAttempts,
		})
	}

	if err := d.queueRepo.CreateMany(ctx, entries); err != nil {
		return false, 0, d.abortBatch(ctx, sched, batch, fmt.Errorf("failed to enqueue entries: %w", err))
	}

	d.metrics.BatchesDispatched.Inc()
	d.logger.Info("batch dispatched",
		"schedule_id", scheduleID.String(),
		"batch_number", batchNumber,
		"recipients", len(recipients))

	more := len(sched.Recipients) > batchNumber*sched.BatchSize
	return more, time.Duration(sched.BatchDelaySeconds) * time.Second, nil
}

// abortBatch records a mid-batch failure: the batch is marked failed and the
// fault propagates to the schedule, but already-created queue entries stay
// intact so partial progress survives.
func (d *Dispatcher) abortBatch(ctx context.Context, sched *model.Schedule, batch *model.ScheduleBatch, cause error) error {
	d.metrics.BatchesFailed.Inc()
	msg := cause.Error()

	if batch != nil {
		if err := d.batchRepo.UpdateStatus(ctx, batch.ID, model.BatchStatusFailed, &msg); err != nil {
			d.logger.Error(err, "failed to mark batch failed", "batch_id", batch.ID.String())
		}
	}
	if err := d.scheduleRepo.UpdateStatus(ctx, sched.ID, model.ScheduleStatusError, &msg); err != nil {
		d.logger.Error(err, "failed to mark schedule errored", "schedule_id", sched.ID.String())
	}
	d.emitEvent(ctx, model.EventScheduleFailed, sched)
	return cause
}

// ensureCampaign returns the schedule's reporting aggregate, creating it on
// the first batch.
func (d *Dispatcher) ensureCampaign(ctx context.Context, sched *model.Schedule) (*model.Campaign, error) {
	campaign, err := d.campaignRepo.GetBySchedule(ctx, sched.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up campaign: %w", err)
	}
	if campaign != nil {
		return campaign, nil
	}

	campaign = &model.Campaign{
		ScheduleID:   &sched.ID,
		Name:         sched.Name,
		Session:      sched.Session,
		TotalCount:   len(sched.Recipients),
		PendingCount: len(sched.Recipients),
	}
	if err := d.campaignRepo.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}
	return campaign, nil
}

// resolveContact looks up recipient metadata, caching hits and falling back
// to a generic placeholder when the contact is unknown.
func (d *Dispatcher) resolveContact(ctx context.Context, recipient string) template.ContactData {
	phone := normalizePhone(recipient)

	if cached, ok := d.contactCache.Get(phone); ok {
		return cached.(template.ContactData)
	}

	data := template.ContactData{Name: "there", Phone: phone, Platform: "whatsapp"}
	contact, err := d.contactRepo.GetByPhone(ctx, phone)
	if err != nil {
		d.logger.Warn("contact lookup failed", "phone", phone, "error", err.Error())
	} else if contact != nil {
		data.Name = contact.Name
		if contact.Platform != "" {
			data.Platform = contact.Platform
		}
	}

	d.contactCache.Set(phone, data, cache.DefaultExpiration)
	return data
}

func (d *Dispatcher) emitEvent(ctx context.Context, eventType string, sched *model.Schedule) {
	payload, err := json.Marshal(map[string]string{
		"schedule_id": sched.ID.String(),
		"name":        sched.Name,
		"status":      string(sched.Status),
	})
	if err != nil {
		return
	}
	event := &model.OutboxEvent{EventType: eventType, Payload: payload}
	if err := d.outboxRepo.Create(ctx, event); err != nil {
		d.logger.Error(err, "failed to write outbox event", "event_type", eventType)
	}
}

func sessionUsable(status string) bool {
	switch strings.ToUpper(status) {
	case "WORKING", "CONNECTED", "AUTHENTICATED":
		return true
	}
	return false
}

func normalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func chatID(recipient string) string {
	return normalizePhone(recipient) + "@c.us"
}
