// Package ratelimit implements per-key sliding window admission control.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"jpyc-onchain-lab/internal/observability"
)

// Config defines the window and its request budget.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultConfig allows 10 requests per second.
func DefaultConfig() Config {
	return Config{MaxRequests: 10, Window: time.Second}
}

// Result is the outcome of an admission check.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration // set when Allowed is false
}

// Stats describes the current usage of a key.
type Stats struct {
	Current   int       `json:"current"`
	Remaining int       `json:"remaining"`
	Max       int       `json:"max"`
	ResetTime time.Time `json:"resetTime"`
}

// ExceededError reports a rejected request.
type ExceededError struct {
	Key        string
	RetryAfter time.Duration
	ResetTime  time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Key, e.RetryAfter)
}

// HTTPStatus lets retry and classification treat the rejection as a 429.
func (e *ExceededError) HTTPStatus() int { return 429 }

type window struct {
	timestamps []time.Time
	resetTime  time.Time
}

// Limiter tracks an independent window per key.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	windows map[string]*window
	now     func() time.Time
}

// New creates a Limiter. Non-positive fields fall back to DefaultConfig.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	return &Limiter{
		cfg:     cfg,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Config returns the limiter configuration.
func (l *Limiter) Config() Config { return l.cfg }

// TryAcquire records a request for key if the window has capacity.
func (l *Limiter) TryAcquire(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok {
		w = &window{resetTime: now.Add(l.cfg.Window)}
		l.windows[key] = w
	}

	w.timestamps = l.prune(w.timestamps, now)
	if !now.Before(w.resetTime) {
		w.timestamps = w.timestamps[:0]
		w.resetTime = now.Add(l.cfg.Window)
	}

	current := len(w.timestamps)
	if current >= l.cfg.MaxRequests {
		retryAfter := w.timestamps[0].Add(l.cfg.Window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		observability.RecordRateLimitRejection(key)
		return Result{
			Allowed:    false,
			Remaining:  0,
			ResetTime:  w.resetTime,
			RetryAfter: retryAfter,
		}
	}

	w.timestamps = append(w.timestamps, now)
	remaining := l.cfg.MaxRequests - current - 1
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining, ResetTime: w.resetTime}
}

// prune drops timestamps at or before now-window. Timestamps are appended
// in order, so the survivors form a suffix.
func (l *Limiter) prune(ts []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

// Acquire is TryAcquire returning an *ExceededError on rejection.
func (l *Limiter) Acquire(key string) error {
	res := l.TryAcquire(key)
	if res.Allowed {
		return nil
	}
	return &ExceededError{Key: key, RetryAfter: res.RetryAfter, ResetTime: res.ResetTime}
}

// Wait blocks until key is admitted or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	for {
		res := l.TryAcquire(key)
		if res.Allowed {
			return nil
		}
		delay := res.RetryAfter
		if delay <= 0 {
			delay = time.Millisecond
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Reset clears the history of key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// ResetAll clears every key.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string]*window)
}

// Stats reports current usage of key without recording a request.
func (l *Limiter) Stats(key string) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		return Stats{Remaining: l.cfg.MaxRequests, Max: l.cfg.MaxRequests}
	}
	current := len(l.prune(w.timestamps, l.now()))
	remaining := l.cfg.MaxRequests - current
	if remaining < 0 {
		remaining = 0
	}
	return Stats{Current: current, Remaining: remaining, Max: l.cfg.MaxRequests, ResetTime: w.resetTime}
}

// Keys returns every key with a tracked window.
func (l *Limiter) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]string, 0, len(l.windows))
	for k := range l.windows {
		keys = append(keys, k)
	}
	return keys
}
