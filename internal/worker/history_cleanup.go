package worker

import (
	"context"
	"time"

	"github.com/adirachman/wa-broadcast-api/internal/repository"
	"github.com/adirachman/wa-broadcast-api/pkg/logger"
)

type HistoryCleanupConfig struct {
	Interval      time.Duration
	KeepCampaigns int
	RetentionDays int
}

// HistoryCleanupWorker enforces the execution history retention policy:
// a bounded number of campaigns, plus age-based pruning of terminal queue
// entries and published outbox events.
type HistoryCleanupWorker struct {
	campaignRepo repository.CampaignRepository
	queueRepo    repository.QueueRepository
	outboxRepo   repository.OutboxRepository
	config       HistoryCleanupConfig
	logger       *logger.Logger
}

func NewHistoryCleanupWorker(
	campaignRepo repository.CampaignRepository,
	queueRepo repository.QueueRepository,
	outboxRepo repository.OutboxRepository,
	config HistoryCleanupConfig,
	log *logger.Logger,
) *HistoryCleanupWorker {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.KeepCampaigns <= 0 {
		config.KeepCampaigns = 100
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = 30
	}
	return &HistoryCleanupWorker{
		campaignRepo: campaignRepo,
		queueRepo:    queueRepo,
		outboxRepo:   outboxRepo,
		config:       config,
		logger:       log,
	}
}

func (w *HistoryCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.logger.Info("history cleanup worker started",
		"interval", w.config.Interval.String(),
		"keep_campaigns", w.config.KeepCampaigns,
		"retention_days", w.config.RetentionDays)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("history cleanup worker shutting down")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one cleanup pass. Each pruner is independent; a failure in one
// does not stop the others.
func (w *HistoryCleanupWorker) Sweep(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -w.config.RetentionDays)

	if removed, err := w.campaignRepo.PruneOldest(ctx, w.config.KeepCampaigns); err != nil {
		w.logger.Error(err, "failed to prune campaigns")
	} else if removed > 0 {
		w.logger.Info("pruned old campaigns", "removed", removed)
	}

	if removed, err := w.queueRepo.ArchiveTerminalBefore(ctx, cutoff); err != nil {
		w.logger.Error(err, "failed to archive queue entries")
	} else if removed > 0 {
		w.logger.Info("archived terminal queue entries", "removed", removed)
	}

	if removed, err := w.outboxRepo.DeleteProcessedBefore(ctx, cutoff); err != nil {
		w.logger.Error(err, "failed to delete processed outbox events")
	} else if removed > 0 {
		w.logger.Info("deleted processed outbox events", "removed", removed)
	}
}
