// Package ratelimit guards the public endpoints with a sliding-window
// limiter. The window algorithm, rather than fixed buckets, prevents
// boundary bursts from doubling the effective rate.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result reports one limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Limit     int
}

// Limiter decides whether a keyed request may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// SlidingWindowLimiter tracks request timestamps per key in memory. Single
// node only; a shared deployment would back this with Redis.
type SlidingWindowLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string][]time.Time
	now     func() time.Time
}

type LimiterOption func(*SlidingWindowLimiter)

func WithClock(now func() time.Time) LimiterOption {
	return func(l *SlidingWindowLimiter) {
		l.now = now
	}
}

func NewSlidingWindowLimiter(limit int, window time.Duration, opts ...LimiterOption) *SlidingWindowLimiter {
	l := &SlidingWindowLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *SlidingWindowLimiter) Allow(_ context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	stamps := l.buckets[key]
	i := 0
	for ; i < len(stamps); i++ {
		if stamps[i].After(cutoff) {
			break
		}
	}
	stamps = stamps[i:]

	if len(stamps) >= l.limit {
		l.buckets[key] = stamps
		return Result{
			Allowed: false,
			ResetAt: stamps[0].Add(l.window),
			Limit:   l.limit,
		}, nil
	}

	stamps = append(stamps, now)
	l.buckets[key] = stamps
	return Result{
		Allowed:   true,
		Remaining: l.limit - len(stamps),
		ResetAt:   stamps[0].Add(l.window),
		Limit:     l.limit,
	}, nil
}

// Reset clears the window for a key.
func (l *SlidingWindowLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

var _ Limiter = (*SlidingWindowLimiter)(nil)
