package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/adirachman/wa-broadcast-api/internal/gateway"
	"github.com/adirachman/wa-broadcast-api/internal/model"
	"github.com/adirachman/wa-broadcast-api/internal/repository"
	"github.com/adirachman/wa-broadcast-api/pkg/logger"
	"github.com/adirachman/wa-broadcast-api/pkg/metrics"
)

type RetryCoordinatorConfig struct {
	ScanInterval time.Duration
	PageSize     int
}

// RetryCoordinator is the safety net behind the queue worker's inline retry
// path. The worker returns transient failures to pending itself and rescues
// crash-orphaned processing entries on each drain tick; what remains are
// entries sitting in failed with attempt budget left (an operator reset, a
// classification revision). The coordinator rescans those on a slower
// cadence, re-validates the stored error against the current classification
// table, and either hands them back to the queue with the next backoff tier
// or parks them for good.
type RetryCoordinator struct {
	queueRepo repository.QueueRepository
	config    RetryCoordinatorConfig
	logger    *logger.Logger
	metrics   *metrics.Metrics

	scanning atomic.Bool
}

func NewRetryCoordinator(
	queueRepo repository.QueueRepository,
	config RetryCoordinatorConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *RetryCoordinator {
	if config.ScanInterval <= 0 {
		config.ScanInterval = 5 * time.Minute
	}
	if config.PageSize <= 0 {
		config.PageSize = 100
	}
	return &RetryCoordinator{
		queueRepo: queueRepo,
		config:    config,
		logger:    log,
		metrics:   m,
	}
}

func (c *RetryCoordinator) Start(ctx context.Context) {
	ticker := time.NewTicker(c.config.ScanInterval)
	defer ticker.Stop()

	c.logger.Info("retry coordinator started",
		"interval", c.config.ScanInterval.String(),
		"page_size", c.config.PageSize)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("retry coordinator shutting down")
			return
		case <-ticker.C:
			if err := c.Scan(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error(err, "retry scan failed")
			}
		}
	}
}

// Scan runs one rescan cycle. Overlapping scans are skipped, same contract
// as the queue worker's drain.
func (c *RetryCoordinator) Scan(ctx context.Context) error {
	if !c.scanning.CompareAndSwap(false, true) {
		c.logger.Warn("previous retry scan still running, skipping")
		return nil
	}
	defer c.scanning.Store(false)

	entries, err := c.queueRepo.FetchRetryable(ctx, c.config.PageSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	c.logger.Info("rescanning failed entries", "count", len(entries))

	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.reconsider(ctx, entry)
	}
	return nil
}

func (c *RetryCoordinator) reconsider(ctx context.Context, entry *model.QueueEntry) {
	message := ""
	if entry.ErrorMessage != nil {
		message = *entry.ErrorMessage
	}
	category, retryable := gateway.Classify(message)

	if !retryable {
		// The table still calls this permanent. Exhaust the budget so the
		// scan stops revisiting it; the stored error stays intact.
		entry.Attempts = entry.MaxAttempts
		entry.Status = model.QueueEntryStatusFailed
		cat := string(category)
		entry.ErrorCategory = &cat
		if err := c.queueRepo.Update(ctx, entry); err != nil {
			c.logger.Error(err, "failed to park entry", "entry_id", entry.ID.String())
		}
		return
	}

	at := time.Now().Add(RetryDelay(entry.Attempts + 1))
	if err := c.queueRepo.Reschedule(ctx, entry.ID, at); err != nil {
		c.logger.Error(err, "failed to resurrect entry", "entry_id", entry.ID.String())
		return
	}
	c.metrics.RetryAttempts.WithLabelValues(string(category)).Inc()
	c.logger.Info("failed entry returned to queue",
		"entry_id", entry.ID.String(),
		"category", string(category),
		"attempts", entry.Attempts,
		"next_attempt_at", at.Format(time.RFC3339))
}
