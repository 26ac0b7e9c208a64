package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/adirachman/wa-broadcast-api/internal/gateway"
	"github.com/adirachman/wa-broadcast-api/internal/model"
	"github.com/adirachman/wa-broadcast-api/internal/ratelimit"
	"github.com/adirachman/wa-broadcast-api/internal/repository"
	"github.com/adirachman/wa-broadcast-api/pkg/logger"
	"github.com/adirachman/wa-broadcast-api/pkg/metrics"
)

// QueueWorkerConfig tunes the drain loop.
type QueueWorkerConfig struct {
	PollInterval      time.Duration
	PageSize          int
	InterMessageDelay time.Duration
	// StuckThreshold is how long an entry may sit in processing before it
	// is presumed orphaned by a dead worker and returned to pending.
	StuckThreshold time.Duration
}

// QueueWorker is the continuously-running drain loop: it turns due queue
// entries into delivery attempts while respecting per-session rate limits.
type QueueWorker struct {
	queueRepo repository.QueueRepository
	limiter   *ratelimit.Limiter
	gateway   gateway.Client
	config    QueueWorkerConfig
	logger    *logger.Logger
	metrics   *metrics.Metrics
	acct      *accountant

	// processing guards re-entrancy: a tick that finds a previous drain
	// still running skips rather than queues.
	processing atomic.Bool

	// sleep is swapped out in tests to skip the inter-message pacing.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewQueueWorker(
	queueRepo repository.QueueRepository,
	batchRepo repository.BatchRepository,
	campaignRepo repository.CampaignRepository,
	scheduleRepo repository.ScheduleRepository,
	outboxRepo repository.OutboxRepository,
	limiter *ratelimit.Limiter,
	gw gateway.Client,
	config QueueWorkerConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *QueueWorker {
	if config.PollInterval <= 0 {
		config.PollInterval = 10 * time.Second
	}
	if config.PageSize <= 0 {
		config.PageSize = 50
	}
	if config.StuckThreshold <= 0 {
		config.StuckThreshold = 10 * time.Minute
	}

	return &QueueWorker{
		queueRepo: queueRepo,
		limiter:   limiter,
		gateway:   gw,
		config:    config,
		logger:    log,
		metrics:   m,
		acct: &accountant{
			queueRepo:    queueRepo,
			batchRepo:    batchRepo,
			campaignRepo: campaignRepo,
			scheduleRepo: scheduleRepo,
			outboxRepo:   outboxRepo,
			logger:       log,
			metrics:      m,
		},
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (w *QueueWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.logger.Info("delivery queue worker started",
		"interval", w.config.PollInterval.String(),
		"page_size", w.config.PageSize)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("delivery queue worker shutting down")
			return
		case <-ticker.C:
			if err := w.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error(err, "drain tick failed")
			}
		}
	}
}

// Drain runs one tick: fetch due entries, group by session, enforce the
// sliding windows, dispatch what is allowed. Safe to call directly in tests.
func (w *QueueWorker) Drain(ctx context.Context) error {
	if !w.processing.CompareAndSwap(false, true) {
		// Previous drain still running; skip this tick entirely.
		return nil
	}
	defer w.processing.Store(false)

	// Entries orphaned in processing by a dead worker go back to pending
	// before this tick's fetch, so a crash never strands a recipient.
	if released, err := w.queueRepo.ReleaseStuck(ctx, time.Now().Add(-w.config.StuckThreshold)); err != nil {
		w.logger.Error(err, "failed to release stuck entries")
	} else if released > 0 {
		w.logger.Warn("released entries stuck in processing", "count", released)
	}

	entries, err := w.queueRepo.FetchDue(ctx, time.Now(), w.config.PageSize)
	if err != nil {
		return fmt.Errorf("failed to fetch due entries: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	if pending, err := w.queueRepo.CountPending(ctx); err == nil {
		w.metrics.QueueDepth.Set(float64(pending))
	}

	// Rate limits are per session, never global.
	bySession := make(map[string][]*model.QueueEntry)
	order := make([]string, 0)
	for _, entry := range entries {
		if _, seen := bySession[entry.Session]; !seen {
			order = append(order, entry.Session)
		}
		bySession[entry.Session] = append(bySession[entry.Session], entry)
	}

	for _, session := range order {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.drainSession(ctx, session, bySession[session]); err != nil {
			w.logger.Error(err, "session drain failed", "session", session)
		}
	}
	return nil
}

// drainSession dispatches the session's entries strictly sequentially, with
// inter-message pacing, deferring whatever exceeds the current windows.
func (w *QueueWorker) drainSession(ctx context.Context, session string, entries []*model.QueueEntry) error {
	decision, err := w.limiter.Evaluate(ctx, session)
	if err != nil {
		// On limiter failure, release the entries back to pending rather
		// than sending unmetered.
		w.deferEntries(ctx, entries, time.Now().Add(time.Minute), "limiter_error")
		return fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	allowed := decision.AllowedCount
	if allowed >= len(entries) {
		allowed = len(entries)
	}

	if allowed < len(entries) {
		w.deferEntries(ctx, entries[allowed:], decision.NextAvailableAt, decision.LimitingWindow)
	}

	for i, entry := range entries[:allowed] {
		if ctx.Err() != nil {
			// Remaining entries go back to pending for the next tick.
			w.deferEntries(context.Background(), entries[i:allowed], time.Now(), "shutdown")
			return ctx.Err()
		}
		w.dispatch(ctx, entry)
		if i < allowed-1 {
			if err := w.sleep(ctx, w.config.InterMessageDelay); err != nil {
				w.deferEntries(context.Background(), entries[i+1:allowed], time.Now(), "shutdown")
				return err
			}
		}
	}
	return nil
}

// deferEntries bumps entries forward instead of dropping them.
func (w *QueueWorker) deferEntries(ctx context.Context, entries []*model.QueueEntry, at time.Time, window string) {
	if len(entries) == 0 {
		return
	}
	if at.IsZero() || at.Before(time.Now()) {
		at = time.Now().Add(time.Minute)
	}
	w.metrics.RateLimitDeferrals.WithLabelValues(window).Add(float64(len(entries)))
	w.metrics.MessagesRescheduled.Add(float64(len(entries)))

	for _, entry := range entries {
		if err := w.queueRepo.Reschedule(ctx, entry.ID, at); err != nil {
			w.logger.Error(err, "failed to defer entry", "entry_id", entry.ID.String())
		}
	}
}

// dispatch performs one delivery attempt and resolves the entry's outcome.
func (w *QueueWorker) dispatch(ctx context.Context, entry *model.QueueEntry) {
	entry.Attempts++

	start := time.Now()
	result, err := w.gateway.Send(ctx, entry.Session, entry.ChatID, entry.Content, entry.ImageRef)
	w.metrics.DispatchLatency.Observe(time.Since(start).Seconds())

	if err == nil {
		markSent(entry, result.MessageID)
		if updateErr := w.queueRepo.Update(ctx, entry); updateErr != nil {
			w.logger.Error(updateErr, "failed to persist sent entry", "entry_id", entry.ID.String())
			return
		}
		w.acct.recordSuccess(ctx, entry)
		return
	}

	w.resolveFailure(ctx, entry, err)
}

func (w *QueueWorker) resolveFailure(ctx context.Context, entry *model.QueueEntry, cause error) {
	message := cause.Error()
	category := gateway.CategoryUnknown
	retryable := true

	var sendErr *gateway.SendError
	if errors.As(cause, &sendErr) {
		category = sendErr.Category
		retryable = sendErr.Retryable
		message = sendErr.Message
	}

	if !retryable || entry.Attempts >= entry.MaxAttempts {
		markTerminalFailure(entry, message, category)
		if err := w.queueRepo.Update(ctx, entry); err != nil {
			w.logger.Error(err, "failed to persist failed entry", "entry_id", entry.ID.String())
			return
		}
		w.acct.recordFailure(ctx, entry)
		w.logger.Warn("entry failed terminally",
			"entry_id", entry.ID.String(),
			"category", string(category),
			"attempts", entry.Attempts)
		return
	}

	// Transient: return to pending with the next backoff tier.
	w.metrics.RetryAttempts.WithLabelValues(string(category)).Inc()
	entry.Status = model.QueueEntryStatusPending
	entry.ScheduledFor = time.Now().Add(RetryDelay(entry.Attempts))
	entry.ErrorMessage = &message
	cat := string(category)
	entry.ErrorCategory = &cat

	if err := w.queueRepo.Update(ctx, entry); err != nil {
		w.logger.Error(err, "failed to reschedule entry", "entry_id", entry.ID.String())
	}
}
