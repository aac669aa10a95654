// Package parallel runs named operations concurrently with per-operation
// deadlines and isolated failures.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout applies to operations without their own deadline.
const DefaultTimeout = 10 * time.Second

// ErrAborted is reported when the caller's context ends first.
var ErrAborted = errors.New("parallel requests aborted")

// Status is the outcome of one operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// TimeoutError reports an operation that missed its deadline.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %q timed out after %s", e.Name, e.Timeout)
}

// Operation is a named unit of work. Timeout overrides Options.Timeout.
type Operation[T any] struct {
	Name    string
	Fn      func(ctx context.Context) (T, error)
	Timeout time.Duration
}

// Options configures Execute.
type Options struct {
	Timeout        time.Duration
	MaxConcurrency int // <= 0 means unbounded

	// OnProgress is called once all operations settled.
	OnProgress func(completed, total int)
}

// Outcome is the result of one operation.
type Outcome[T any] struct {
	Name     string
	Status   Status
	Data     T
	Err      error
	Duration time.Duration
}

// Result aggregates every outcome in input order.
type Result[T any] struct {
	Results      []Outcome[T]
	SuccessCount int
	FailureCount int
	TimeoutCount int
	Duration     time.Duration
}

// Execute runs every operation concurrently and waits for all of them to
// settle. One operation failing or timing out never affects the others.
// Execute itself fails only if ctx is already done.
func Execute[T any](ctx context.Context, ops []Operation[T], opts Options) (*Result[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAborted, err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	start := time.Now()
	outcomes := make([]Outcome[T], len(ops))

	var g errgroup.Group
	if opts.MaxConcurrency > 0 {
		g.SetLimit(opts.MaxConcurrency)
	}
	for i, op := range ops {
		g.Go(func() error {
			outcomes[i] = Run(ctx, op, opts.Timeout)
			return nil
		})
	}
	_ = g.Wait()

	if opts.OnProgress != nil {
		opts.OnProgress(len(outcomes), len(ops))
	}

	res := &Result[T]{Results: outcomes, Duration: time.Since(start)}
	for _, o := range outcomes {
		switch o.Status {
		case StatusSuccess:
			res.SuccessCount++
		case StatusTimeout:
			res.TimeoutCount++
		default:
			res.FailureCount++
		}
	}
	return res, nil
}

type settled[T any] struct {
	data T
	err  error
}

// Run executes a single operation under its own deadline (op.Timeout, else
// defaultTimeout) and waits for it or the deadline, whichever comes first.
// The operation goroutine is not forcibly stopped; its late result is
// discarded.
func Run[T any](parent context.Context, op Operation[T], defaultTimeout time.Duration) Outcome[T] {
	timeout := op.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	out := Outcome[T]{Name: op.Name}
	start := time.Now()

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	done := make(chan settled[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- settled[T]{err: fmt.Errorf("request %q panicked: %v", op.Name, r)}
			}
		}()
		v, err := op.Fn(ctx)
		done <- settled[T]{data: v, err: err}
	}()

	select {
	case s := <-done:
		out.Duration = time.Since(start)
		if s.err != nil {
			out.Status, out.Err = StatusError, s.err
			if parent.Err() != nil {
				out.Err = fmt.Errorf("request %q: %w: %w", op.Name, ErrAborted, s.err)
			} else if errors.Is(ctx.Err(), context.DeadlineExceeded) && errors.Is(s.err, context.DeadlineExceeded) {
				out.Status, out.Err = StatusTimeout, &TimeoutError{Name: op.Name, Timeout: timeout}
			}
			return out
		}
		out.Status, out.Data = StatusSuccess, s.data
		return out
	case <-ctx.Done():
		out.Duration = time.Since(start)
		if parent.Err() != nil {
			out.Status = StatusError
			out.Err = fmt.Errorf("request %q was aborted: %w", op.Name, ErrAborted)
			return out
		}
		out.Status = StatusTimeout
		out.Err = &TimeoutError{Name: op.Name, Timeout: timeout}
		return out
	}
}

// SuccessData returns the payloads of successful operations in order.
func SuccessData[T any](r *Result[T]) []T {
	var out []T
	for _, o := range r.Results {
		if o.Status == StatusSuccess {
			out = append(out, o.Data)
		}
	}
	return out
}

// FailedOutcome names an operation that errored or timed out.
type FailedOutcome struct {
	Name   string
	Err    error
	Status Status
}

// Errors returns every failed or timed out operation in order.
func Errors[T any](r *Result[T]) []FailedOutcome {
	var out []FailedOutcome
	for _, o := range r.Results {
		if o.Status != StatusSuccess {
			out = append(out, FailedOutcome{Name: o.Name, Err: o.Err, Status: o.Status})
		}
	}
	return out
}

// Outcome returns the outcome for name.
func (r *Result[T]) Outcome(name string) (Outcome[T], bool) {
	for _, o := range r.Results {
		if o.Name == name {
			return o, true
		}
	}
	return Outcome[T]{}, false
}
