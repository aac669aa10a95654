// Package errclass sorts failures into user, system, business-logic and
// unknown errors and keeps a short in-memory log of them.
package errclass

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"jpyc-onchain-lab/internal/observability"
)

// Type is an error category.
type Type string

const (
	UserError          Type = "USER_ERROR"
	SystemError        Type = "SYSTEM_ERROR"
	BusinessLogicError Type = "BUSINESS_LOGIC_ERROR"
	UnknownError       Type = "UNKNOWN_ERROR"
)

// DefaultLogCapacity is the number of errors a Classifier retains.
const DefaultLogCapacity = 100

var (
	systemPatterns   = []string{"timeout", "network", "connection", "unavailable", "failed to fetch"}
	businessPatterns = []string{"validation", "invalid", "integrity", "constraint", "required"}
)

type statusCoder interface {
	HTTPStatus() int
}

// Categorize classifies err. An HTTP status on the error chain wins over
// message inspection.
func Categorize(err error) Type {
	if err == nil {
		return UnknownError
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		switch status := sc.HTTPStatus(); {
		case status >= 400 && status < 500:
			return UserError
		case status >= 500 && status < 600:
			return SystemError
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return SystemError
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg, systemPatterns) {
		return SystemError
	}
	if containsAny(msg, businessPatterns) {
		return BusinessLogicError
	}
	return UnknownError
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// UserMessage returns the message shown to end users for t.
func UserMessage(t Type) string {
	switch t {
	case UserError:
		return "Please check your request. If the problem persists, try again."
	case SystemError:
		return "Please wait a moment and try again. If the problem continues, contact support."
	case BusinessLogicError:
		return "Please check the data and make sure it is in the correct format."
	default:
		return "An unexpected error occurred. If the problem persists, contact support."
	}
}

// IsRecoverable reports whether retrying can help for t. Only UnknownError
// is not recoverable.
func IsRecoverable(t Type) bool {
	return t != UnknownError
}

func describe(t Type, err error) string {
	switch t {
	case UserError:
		return fmt.Sprintf("request rejected: %v", err)
	case SystemError:
		return fmt.Sprintf("system error: %v", err)
	case BusinessLogicError:
		return fmt.Sprintf("data validation failed: %v", err)
	default:
		return fmt.Sprintf("unexpected error: %v", err)
	}
}

// AppError is a classified failure.
type AppError struct {
	Type        Type      `json:"type"`
	Message     string    `json:"message"`
	UserMessage string    `json:"userMessage"`
	Operation   string    `json:"operation"`
	Timestamp   time.Time `json:"timestamp"`
	Recoverable bool      `json:"recoverable"`
	Cause       error     `json:"-"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Operation, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Classify builds an AppError for err without recording it.
func Classify(err error, operation string, now time.Time) *AppError {
	t := Categorize(err)
	return &AppError{
		Type:        t,
		Message:     describe(t, err),
		UserMessage: UserMessage(t),
		Operation:   operation,
		Timestamp:   now,
		Recoverable: IsRecoverable(t),
		Cause:       err,
	}
}

// Classifier classifies errors and retains the most recent ones.
type Classifier struct {
	mu       sync.Mutex
	entries  []*AppError
	capacity int
	logger   *log.Logger
	now      func() time.Time
}

// Option configures Classifier.
type Option func(*Classifier)

// WithCapacity overrides DefaultLogCapacity.
func WithCapacity(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithLogger sets the logger errors are written to.
func WithLogger(l *log.Logger) Option {
	return func(c *Classifier) {
		c.logger = l
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		c.now = now
	}
}

// New creates a Classifier.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		capacity: DefaultLogCapacity,
		logger:   log.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle classifies err, records it and returns the result. The oldest
// entry is dropped once the log is full.
func (c *Classifier) Handle(err error, operation string) *AppError {
	appErr := Classify(err, operation, c.now().UTC())
	observability.RecordClassifiedError(string(appErr.Type))
	c.logger.Printf("[%s] %s: %s (recoverable=%t)", appErr.Type, operation, appErr.Message, appErr.Recoverable)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, appErr)
	if over := len(c.entries) - c.capacity; over > 0 {
		c.entries = append(c.entries[:0:0], c.entries[over:]...)
	}
	return appErr
}

// Log returns the retained errors, oldest first.
func (c *Classifier) Log() []*AppError {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*AppError, len(c.entries))
	copy(out, c.entries)
	return out
}

// Clear drops every retained error.
func (c *Classifier) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}
