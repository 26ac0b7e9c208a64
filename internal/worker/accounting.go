package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/adirachman/wa-broadcast-api/internal/gateway"
	"github.com/adirachman/wa-broadcast-api/internal/model"
	"github.com/adirachman/wa-broadcast-api/internal/repository"
	"github.com/adirachman/wa-broadcast-api/pkg/logger"
	"github.com/adirachman/wa-broadcast-api/pkg/metrics"
)

// accountant centralizes the bookkeeping both the queue worker and the
// retry coordinator perform when an entry reaches a terminal state:
// message records, batch and campaign counters, and completion cascades.
type accountant struct {
	queueRepo    repository.QueueRepository
	batchRepo    repository.BatchRepository
	campaignRepo repository.CampaignRepository
	scheduleRepo repository.ScheduleRepository
	outboxRepo   repository.OutboxRepository
	logger       *logger.Logger
	metrics      *metrics.Metrics
}

// recordSuccess persists a sent entry and updates every aggregate above it.
func (a *accountant) recordSuccess(ctx context.Context, entry *model.QueueEntry) {
	a.metrics.MessagesSent.Inc()
	a.appendRecord(ctx, entry, model.MessageRecordStatusSent)
	a.bump(ctx, entry, 1, 0)
}

// recordFailure persists a terminally failed entry.
func (a *accountant) recordFailure(ctx context.Context, entry *model.QueueEntry) {
	category := string(gateway.CategoryUnknown)
	if entry.ErrorCategory != nil {
		category = *entry.ErrorCategory
	}
	a.metrics.MessagesFailed.WithLabelValues(category).Inc()
	a.appendRecord(ctx, entry, model.MessageRecordStatusFailed)
	a.bump(ctx, entry, 0, 1)
}

func (a *accountant) appendRecord(ctx context.Context, entry *model.QueueEntry, status model.MessageRecordStatus) {
	if entry.CampaignID == nil {
		return
	}
	record := &model.MessageRecord{
		CampaignID:    *entry.CampaignID,
		Recipient:     entry.Recipient,
		Status:        status,
		ErrorMessage:  entry.ErrorMessage,
		ErrorCategory: entry.ErrorCategory,
		BatchNumber:   entry.BatchNumber,
		GatewayMsgID:  entry.GatewayMsgID,
	}
	if err := a.campaignRepo.RecordMessage(ctx, record); err != nil {
		a.logger.Error(err, "failed to append message record", "entry_id", entry.ID.String())
	}
}

// bump increments batch and campaign counters and cascades completion when
// the final batch resolves.
func (a *accountant) bump(ctx context.Context, entry *model.QueueEntry, success, failure int) {
	if entry.CampaignID != nil {
		if _, err := a.campaignRepo.IncrementCounters(ctx, *entry.CampaignID, success, failure); err != nil {
			a.logger.Error(err, "failed to update campaign counters", "campaign_id", entry.CampaignID.String())
		}
	}

	if entry.BatchID == nil {
		return
	}
	batch, err := a.batchRepo.IncrementCounters(ctx, *entry.BatchID, success, failure)
	if err != nil {
		a.logger.Error(err, "failed to update batch counters", "batch_id", entry.BatchID.String())
		return
	}
	if !batch.Resolved() {
		return
	}

	// Counter math says the batch is done; confirm against the queue so an
	// out-of-order increment cannot complete a batch with entries still in
	// flight.
	if unresolved, err := a.queueRepo.CountUnresolvedByBatch(ctx, batch.ID); err != nil {
		a.logger.Error(err, "failed to count unresolved entries", "batch_id", batch.ID.String())
	} else if unresolved > 0 {
		return
	}

	if err := a.batchRepo.UpdateStatus(ctx, batch.ID, model.BatchStatusCompleted, nil); err != nil {
		a.logger.Error(err, "failed to complete batch", "batch_id", batch.ID.String())
	}

	a.maybeCompleteSchedule(ctx, entry, batch)
}

// maybeCompleteSchedule finishes the schedule and its campaign once the
// last batch's entries have all resolved.
func (a *accountant) maybeCompleteSchedule(ctx context.Context, entry *model.QueueEntry, batch *model.ScheduleBatch) {
	if entry.ScheduleID == nil {
		return
	}
	sched, err := a.scheduleRepo.Get(ctx, *entry.ScheduleID)
	if err != nil || sched == nil {
		if err != nil {
			a.logger.Error(err, "failed to read schedule", "schedule_id", entry.ScheduleID.String())
		}
		return
	}
	if batch.BatchNumber < sched.BatchCount() {
		return
	}

	if !sched.Status.IsTerminal() {
		if err := a.scheduleRepo.UpdateStatus(ctx, sched.ID, model.ScheduleStatusCompleted, nil); err != nil {
			a.logger.Error(err, "failed to complete schedule", "schedule_id", sched.ID.String())
		}
		a.emitEvent(ctx, model.EventScheduleCompleted, map[string]string{
			"schedule_id": sched.ID.String(),
			"name":        sched.Name,
		})
	}

	if entry.CampaignID != nil {
		campaign, err := a.campaignRepo.Get(ctx, *entry.CampaignID)
		if err != nil || campaign == nil {
			return
		}
		status := model.CampaignStatusCompleted
		if campaign.SuccessCount == 0 && campaign.FailureCount > 0 {
			status = model.CampaignStatusFailed
		}
		if err := a.campaignRepo.MarkCompleted(ctx, campaign.ID, status); err != nil {
			a.logger.Error(err, "failed to complete campaign", "campaign_id", campaign.ID.String())
			return
		}
		a.emitEvent(ctx, model.EventCampaignCompleted, map[string]string{
			"campaign_id": campaign.ID.String(),
			"status":      string(status),
		})
	}
}

func (a *accountant) emitEvent(ctx context.Context, eventType string, payload map[string]string) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	event := &model.OutboxEvent{EventType: eventType, Payload: raw}
	if err := a.outboxRepo.Create(ctx, event); err != nil {
		a.logger.Error(err, "failed to write outbox event", "event_type", eventType)
	}
}

// markTerminalFailure transitions entry to failed with its classification.
func markTerminalFailure(entry *model.QueueEntry, message string, category gateway.ErrorCategory) {
	entry.Status = model.QueueEntryStatusFailed
	entry.ErrorMessage = &message
	cat := string(category)
	entry.ErrorCategory = &cat
}

// markSent transitions entry to sent with the gateway message id.
func markSent(entry *model.QueueEntry, messageID string) {
	now := time.Now()
	entry.Status = model.QueueEntryStatusSent
	entry.SentAt = &now
	if messageID != "" {
		entry.GatewayMsgID = &messageID
	}
	entry.ErrorMessage = nil
	entry.ErrorCategory = nil
}
