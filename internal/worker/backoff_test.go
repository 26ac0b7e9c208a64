package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBaseRetryDelayLadder(t *testing.T) {
	assert.Equal(t, time.Minute, BaseRetryDelay(1))
	assert.Equal(t, 5*time.Minute, BaseRetryDelay(2))
	assert.Equal(t, 15*time.Minute, BaseRetryDelay(3))
	assert.Equal(t, time.Hour, BaseRetryDelay(4))
	assert.Equal(t, 3*time.Hour, BaseRetryDelay(5))
	assert.Equal(t, 6*time.Hour, BaseRetryDelay(6))
}

func TestBaseRetryDelayClampsBeyondLadder(t *testing.T) {
	assert.Equal(t, 6*time.Hour, BaseRetryDelay(7))
	assert.Equal(t, 6*time.Hour, BaseRetryDelay(100))
}

func TestBaseRetryDelayNonDecreasing(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := BaseRetryDelay(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		prev = d
	}
}

func TestRetryDelayJitterBounds(t *testing.T) {
	for attempt := 1; attempt <= 6; attempt++ {
		base := BaseRetryDelay(attempt)
		lo := time.Duration(float64(base) * 0.8)
		hi := time.Duration(float64(base) * 1.2)
		for i := 0; i < 100; i++ {
			d := RetryDelay(attempt)
			assert.GreaterOrEqual(t, d, lo, "attempt %d", attempt)
			assert.LessOrEqual(t, d, hi, "attempt %d", attempt)
		}
	}
}

func TestRetryDelayInvalidAttemptClampsToFirstTier(t *testing.T) {
	d := RetryDelay(0)
	assert.GreaterOrEqual(t, d, time.Duration(float64(time.Minute)*0.8))
	assert.LessOrEqual(t, d, time.Duration(float64(time.Minute)*1.2))
}
