package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCategories(t *testing.T) {
	tests := []struct {
		message   string
		category  ErrorCategory
		retryable bool
	}{
		{"Invalid phone number provided", CategoryInvalidRecipient, false},
		{"number does not exist on whatsapp", CategoryInvalidRecipient, false},
		{"recipient has BLOCKED you", CategoryRecipientBlocked, false},
		{"session not found, scan QR", CategorySessionInvalid, false},
		{"401 Unauthorized", CategoryUnauthorized, false},
		{"bad request: missing required field", CategoryBadRequest, false},
		{"429 Too Many Requests", CategoryRateLimited, true},
		{"context deadline exceeded", CategoryTimeout, true},
		{"dial tcp: connection refused", CategoryNetwork, true},
		{"502 Bad Gateway", CategoryServerUnavailable, true},
		{"client is not connected", CategorySessionDisconnected, true},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			category, retryable := Classify(tt.message)
			assert.Equal(t, tt.category, category)
			assert.Equal(t, tt.retryable, retryable)
		})
	}
}

func TestClassifyOrderFirstMatchWins(t *testing.T) {
	// "invalid number ... timed out" matches the invalid-recipient row before
	// the timeout row; classification must not drift with message suffixes.
	category, retryable := Classify("invalid number lookup timed out")
	assert.Equal(t, CategoryInvalidRecipient, category)
	assert.False(t, retryable)
}

func TestClassifyUnknownDefaultsRetryable(t *testing.T) {
	category, retryable := Classify("something entirely novel happened")
	assert.Equal(t, CategoryUnknown, category)
	assert.True(t, retryable)
}

func TestClassifyCaseInsensitive(t *testing.T) {
	category, _ := Classify("SESSION EXPIRED")
	assert.Equal(t, CategorySessionInvalid, category)
}
