package gateway

import (
	"strings"
)

// ErrorCategory classifies a gateway failure for retry decisions and
// reporting.
type ErrorCategory string

const (
	CategoryInvalidRecipient    ErrorCategory = "invalid_recipient"
	CategoryRecipientBlocked    ErrorCategory = "recipient_blocked"
	CategorySessionInvalid      ErrorCategory = "session_invalid"
	CategoryUnauthorized        ErrorCategory = "unauthorized"
	CategoryBadRequest          ErrorCategory = "bad_request"
	CategoryNetwork             ErrorCategory = "network"
	CategoryTimeout             ErrorCategory = "timeout"
	CategoryServerUnavailable   ErrorCategory = "server_unavailable"
	CategoryRateLimited         ErrorCategory = "rate_limited"
	CategorySessionDisconnected ErrorCategory = "session_disconnected"
	CategoryUnknown             ErrorCategory = "unknown"
)

type matcher struct {
	substrings []string
	category   ErrorCategory
	retryable  bool
}

// classifiers is an ordered table; the first match wins. The matching is
// substring-based against the upstream error text, which is brittle if the
// gateway rewords its messages. A structured error code from the gateway
// would make this exact; until then the table is the single place the
// wording is depended on.
var classifiers = []matcher{
	{[]string{"invalid phone", "invalid number", "not a valid", "invalid recipient", "number does not exist", "not registered"}, CategoryInvalidRecipient, false},
	{[]string{"blocked", "blacklisted"}, CategoryRecipientBlocked, false},
	{[]string{"session not found", "session invalid", "session expired", "invalid session", "scan qr"}, CategorySessionInvalid, false},
	{[]string{"unauthorized", "forbidden", "invalid api key", "invalid token"}, CategoryUnauthorized, false},
	{[]string{"bad request", "malformed", "missing required"}, CategoryBadRequest, false},
	{[]string{"rate limit", "too many requests", "429"}, CategoryRateLimited, true},
	{[]string{"timeout", "timed out", "deadline exceeded"}, CategoryTimeout, true},
	{[]string{"connection refused", "connection reset", "no such host", "network", "eof", "broken pipe"}, CategoryNetwork, true},
	{[]string{"service unavailable", "bad gateway", "internal server error", "502", "503", "504"}, CategoryServerUnavailable, true},
	{[]string{"disconnected", "not connected", "connection closed", "reconnecting"}, CategorySessionDisconnected, true},
}

// Classify maps an upstream error message to a category. Unrecognized
// messages default to retryable so unanticipated failure modes are not
// silently dropped; the entry's attempt budget still bounds them.
func Classify(message string) (ErrorCategory, bool) {
	lower := strings.ToLower(message)
	for _, m := range classifiers {
		for _, s := range m.substrings {
			if strings.Contains(lower, s) {
				return m.category, m.retryable
			}
		}
	}
	return CategoryUnknown, true
}
