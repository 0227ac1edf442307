// Package ratelimit spaces outbound vendor requests and backs off after
// "too many requests" responses.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/irfndi/neuratrade-intraday/internal/config"
	"go.uber.org/zap"
)

// ErrBackingOff is returned by Wait while the limiter is in a backoff window.
var ErrBackingOff = errors.New("rate limiter backing off")

type Config struct {
	MinInterval time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinInterval: 50 * time.Millisecond,
		BackoffBase: time.Second,
		BackoffMax:  time.Minute,
	}
}

func ConfigFromSettings(s config.RateLimitConfig) Config {
	return Config{
		MinInterval: time.Duration(s.MinIntervalMs) * time.Millisecond,
		BackoffBase: time.Duration(s.BackoffBaseMs) * time.Millisecond,
		BackoffMax:  time.Duration(s.BackoffMaxMs) * time.Millisecond,
	}
}

// Status is a point-in-time view of the limiter.
type Status struct {
	InBackoff         bool      `json:"in_backoff"`
	BackoffUntil      time.Time `json:"backoff_until,omitempty"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	Requests          int64     `json:"requests"`
	RateLimitHits     int64     `json:"rate_limit_hits"`
}

// Limiter is shared by every goroutine that talks to the same vendor.
type Limiter struct {
	mu                sync.Mutex
	config            Config
	next              time.Time
	backoffUntil      time.Time
	consecutiveErrors int
	requests          int64
	hits              int64
	now               func() time.Time
	logger            *zap.Logger
}

func NewLimiter(config Config, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{config: config, now: time.Now, logger: logger}
}

// SetClock replaces the time source used for backoff windows.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Wait reserves the next request slot and sleeps until it arrives. It
// returns ErrBackingOff immediately during a backoff window so callers can
// serve cached data instead of blocking.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := l.now()
	if now.Before(l.backoffUntil) {
		l.mu.Unlock()
		return ErrBackingOff
	}
	slot := now
	if l.next.After(slot) {
		slot = l.next
	}
	l.next = slot.Add(l.config.MinInterval)
	l.requests++
	l.mu.Unlock()

	delay := slot.Sub(now)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RecordRateLimited opens or extends the backoff window. Each consecutive
// hit doubles the window up to BackoffMax.
func (l *Limiter) RecordRateLimited() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.consecutiveErrors++
	l.hits++

	backoff := l.config.BackoffBase
	for i := 1; i < l.consecutiveErrors && backoff < l.config.BackoffMax; i++ {
		backoff *= 2
	}
	if backoff > l.config.BackoffMax {
		backoff = l.config.BackoffMax
	}
	l.backoffUntil = l.now().Add(backoff)

	l.logger.Warn("Rate limited by vendor, backing off",
		zap.Duration("backoff", backoff),
		zap.Int("consecutive_errors", l.consecutiveErrors))
	return backoff
}

// RecordSuccess clears the consecutive error count.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consecutiveErrors = 0
}

func (l *Limiter) InBackoff() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now().Before(l.backoffUntil)
}

func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Status{
		InBackoff:         l.now().Before(l.backoffUntil),
		ConsecutiveErrors: l.consecutiveErrors,
		Requests:          l.requests,
		RateLimitHits:     l.hits,
	}
	if s.InBackoff {
		s.BackoffUntil = l.backoffUntil
	}
	return s
}
