package model

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func recipients(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("62811%06d", i)
	}
	return out
}

func TestBatchCount(t *testing.T) {
	tests := []struct {
		recipients int
		batchSize  int
		want       int
	}{
		{120, 50, 3},
		{100, 50, 2},
		{1, 50, 1},
		{50, 50, 1},
		{51, 50, 2},
		{0, 50, 0},
	}
	for _, tt := range tests {
		s := &Schedule{Recipients: recipients(tt.recipients), BatchSize: tt.batchSize}
		assert.Equal(t, tt.want, s.BatchCount(), "%d recipients / %d", tt.recipients, tt.batchSize)
	}
}

func TestRecipientSlice(t *testing.T) {
	s := &Schedule{Recipients: recipients(120), BatchSize: 50}

	assert.Len(t, s.RecipientSlice(1), 50)
	assert.Len(t, s.RecipientSlice(2), 50)
	assert.Len(t, s.RecipientSlice(3), 20)
	assert.Empty(t, s.RecipientSlice(4))

	// Slices partition the list without overlap.
	assert.Equal(t, s.Recipients[0], s.RecipientSlice(1)[0])
	assert.Equal(t, s.Recipients[50], s.RecipientSlice(2)[0])
	assert.Equal(t, s.Recipients[100], s.RecipientSlice(3)[0])
}

func TestScheduleStatusIsTerminal(t *testing.T) {
	assert.True(t, ScheduleStatusCompleted.IsTerminal())
	assert.True(t, ScheduleStatusFailed.IsTerminal())
	assert.False(t, ScheduleStatusPending.IsTerminal())
	assert.False(t, ScheduleStatusActive.IsTerminal())
	assert.False(t, ScheduleStatusPaused.IsTerminal())
	assert.False(t, ScheduleStatusError.IsTerminal())
}

func TestBatchResolved(t *testing.T) {
	b := &ScheduleBatch{RecipientCount: 10, SuccessCount: 6, FailureCount: 3}
	assert.False(t, b.Resolved())
	b.FailureCount = 4
	assert.True(t, b.Resolved())
}

func TestQueueEntryRetryable(t *testing.T) {
	e := &QueueEntry{Attempts: 2, MaxAttempts: 3}
	assert.True(t, e.Retryable())
	e.Attempts = 3
	assert.False(t, e.Retryable())
}
