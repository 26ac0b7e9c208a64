package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// SentStore exposes the historical send counts the limiter works from. The
// persistent queue is the source of truth; the limiter holds no state of
// its own.
type SentStore interface {
	CountSentSince(ctx context.Context, session string, since time.Time) (int, error)
	OldestSentSince(ctx context.Context, session string, since time.Time) (*time.Time, error)
}

// Ceilings are the per-session send caps over each trailing window. A zero
// ceiling disables that window.
type Ceilings struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

type window struct {
	name    string
	length  time.Duration
	ceiling int
}

// Decision is the limiter's verdict for one session at one instant.
type Decision struct {
	// AllowedCount is how many more sends are currently legal.
	AllowedCount int
	// NextAvailableAt is the earliest future instant a send becomes legal
	// again; only meaningful when AllowedCount is zero.
	NextAvailableAt time.Time
	// LimitingWindow names the tightest window ("minute", "hour", "day").
	LimitingWindow string
}

// Limiter evaluates a sliding-window limit over three independent trailing
// windows per session.
type Limiter struct {
	store    SentStore
	ceilings Ceilings
	now      func() time.Time
}

func NewLimiter(store SentStore, ceilings Ceilings) *Limiter {
	return &Limiter{
		store:    store,
		ceilings: ceilings,
		now:      time.Now,
	}
}

func (l *Limiter) windows() []window {
	return []window{
		{"minute", time.Minute, l.ceilings.PerMinute},
		{"hour", time.Hour, l.ceilings.PerHour},
		{"day", 24 * time.Hour, l.ceilings.PerDay},
	}
}

// Evaluate computes how many sends are allowed for session right now. When
// no send is allowed, NextAvailableAt is the instant every exhausted window
// has freed at least one slot.
func (l *Limiter) Evaluate(ctx context.Context, session string) (*Decision, error) {
	now := l.now()
	decision := &Decision{AllowedCount: -1}

	var nextAvailable time.Time
	for _, w := range l.windows() {
		if w.ceiling <= 0 {
			continue
		}

		since := now.Add(-w.length)
		count, err := l.store.CountSentSince(ctx, session, since)
		if err != nil {
			return nil, fmt.Errorf("failed to count sends in %s window: %w", w.name, err)
		}

		remaining := w.ceiling - count
		if remaining < 0 {
			remaining = 0
		}
		if decision.AllowedCount < 0 || remaining < decision.AllowedCount {
			decision.AllowedCount = remaining
			decision.LimitingWindow = w.name
		}

		if remaining == 0 {
			oldest, err := l.store.OldestSentSince(ctx, session, since)
			if err != nil {
				return nil, fmt.Errorf("failed to find oldest send in %s window: %w", w.name, err)
			}
			candidate := now.Add(w.length)
			if oldest != nil {
				candidate = oldest.Add(w.length)
			}
			// A send is legal only once every exhausted window has headroom.
			if candidate.After(nextAvailable) {
				nextAvailable = candidate
			}
		}
	}

	if decision.AllowedCount < 0 {
		// No windows configured: unlimited.
		decision.AllowedCount = int(^uint(0) >> 1)
	}
	if decision.AllowedCount == 0 {
		if nextAvailable.IsZero() || !nextAvailable.After(now) {
			nextAvailable = now.Add(time.Minute)
		}
		decision.NextAvailableAt = nextAvailable
	}
	return decision, nil
}
