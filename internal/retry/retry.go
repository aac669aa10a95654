// Package retry runs operations with exponential backoff, retrying only
// failures classified as transient.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"jpyc-onchain-lab/internal/observability"
)

// Config controls retry behavior.
type Config struct {
	// Name labels retry metrics. Empty means "default".
	Name string

	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffFactor     float64
	RetryableStatuses []int

	// OnRetry is called before each wait with the 1-based attempt number.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns 3 retries starting at 1s, doubling, capped at 10s.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          10 * time.Second,
		BackoffFactor:     2,
		RetryableStatuses: []int{429, 500, 502, 503, 504},
	}
}

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// RetryError is returned when every attempt failed.
type RetryError struct {
	Attempts int
	LastErr  error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryError) Unwrap() error { return e.LastErr }

var transientPatterns = []string{
	"timeout",
	"network",
	"econnreset",
	"connection reset",
	"connection refused",
	"enotfound",
	"no such host",
	"temporarily unavailable",
}

// IsRetryable reports whether err is transient under cfg: a configured
// status code, a network timeout, or a message naming a transient condition.
func IsRetryable(err error, cfg Config) bool {
	if err == nil {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		status := sc.HTTPStatus()
		for _, s := range cfg.RetryableStatuses {
			if s == status {
				return true
			}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Delay returns min(InitialDelay * BackoffFactor^attempt, MaxDelay) for a
// 0-indexed attempt.
func Delay(attempt int, cfg Config) time.Duration {
	d := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt))
	if d > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(d)
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = def.BackoffFactor
	}
	if cfg.RetryableStatuses == nil {
		cfg.RetryableStatuses = def.RetryableStatuses
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	return cfg
}

func (cfg Config) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.Multiplier = cfg.BackoffFactor
	b.MaxInterval = cfg.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do calls op until it succeeds, fails with a non-retryable error, or
// MaxRetries retries have been spent. Non-retryable errors are returned
// as is; exhaustion returns *RetryError wrapping the last error.
func Do[T any](ctx context.Context, op func(context.Context) (T, error), cfg Config) (T, error) {
	cfg = cfg.withDefaults()
	b := cfg.backOff()

	var zero T
	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !IsRetryable(err, cfg) {
			return zero, err
		}
		if attempt >= cfg.MaxRetries {
			return zero, &RetryError{Attempts: attempt + 1, LastErr: err}
		}

		delay := b.NextBackOff()
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}
		observability.RecordRetry(cfg.Name)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry wait interrupted: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// DoErr is Do for operations without a result.
func DoErr(ctx context.Context, op func(context.Context) error, cfg Config) error {
	_, err := Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, cfg)
	return err
}
