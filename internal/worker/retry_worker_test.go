package worker

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adirachman/wa-broadcast-api/internal/gateway"
	"github.com/adirachman/wa-broadcast-api/internal/model"
	"github.com/adirachman/wa-broadcast-api/pkg/logger"
	"github.com/adirachman/wa-broadcast-api/pkg/metrics"
)

func newTestCoordinator(queue *memQueueRepo) *RetryCoordinator {
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	return NewRetryCoordinator(queue, RetryCoordinatorConfig{}, log, metrics.New("retry_test"))
}

func failedEntry(message string, attempts int) *model.QueueEntry {
	return &model.QueueEntry{
		Session:      "main",
		Recipient:    "628111000001",
		ChatID:       "628111000001@c.us",
		Status:       model.QueueEntryStatusFailed,
		Attempts:     attempts,
		MaxAttempts:  3,
		ErrorMessage: &message,
	}
}

func TestScanResurrectsRetryableEntry(t *testing.T) {
	queue := newMemQueueRepo()
	e := queue.add(failedEntry("request timed out", 1))
	coordinator := newTestCoordinator(queue)

	before := time.Now()
	require.NoError(t, coordinator.Scan(context.Background()))

	at, ok := queue.rescheduled[e.ID]
	require.True(t, ok)
	assert.Equal(t, model.QueueEntryStatusPending, e.Status)

	// Attempts stands at 1, so the next attempt lands on the second
	// backoff tier of five minutes, give or take jitter.
	delay := at.Sub(before)
	assert.GreaterOrEqual(t, delay, 3*time.Minute)
	assert.LessOrEqual(t, delay, 7*time.Minute)
}

func TestScanParksPermanentEntry(t *testing.T) {
	queue := newMemQueueRepo()
	e := queue.add(failedEntry("recipient has blocked you", 1))
	coordinator := newTestCoordinator(queue)

	require.NoError(t, coordinator.Scan(context.Background()))

	assert.Equal(t, model.QueueEntryStatusFailed, e.Status)
	assert.Equal(t, e.MaxAttempts, e.Attempts)
	assert.False(t, e.Retryable())
	require.NotNil(t, e.ErrorCategory)
	assert.Equal(t, string(gateway.CategoryRecipientBlocked), *e.ErrorCategory)
	assert.Empty(t, queue.rescheduled)

	// Budget is spent, so the next scan no longer sees it.
	retryable, err := queue.FetchRetryable(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, retryable)
}

func TestScanIgnoresExhaustedEntries(t *testing.T) {
	queue := newMemQueueRepo()
	queue.add(failedEntry("request timed out", 3))
	coordinator := newTestCoordinator(queue)

	require.NoError(t, coordinator.Scan(context.Background()))
	assert.Empty(t, queue.rescheduled)
}

func TestScanSkipsWhilePreviousScanRuns(t *testing.T) {
	queue := newMemQueueRepo()
	queue.add(failedEntry("request timed out", 1))
	coordinator := newTestCoordinator(queue)

	coordinator.scanning.Store(true)
	require.NoError(t, coordinator.Scan(context.Background()))
	assert.Empty(t, queue.rescheduled)
}
