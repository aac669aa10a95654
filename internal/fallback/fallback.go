// Package fallback runs a primary fetch with an optional secondary source
// and records which path produced the data.
package fallback

import (
	"context"
	"errors"
	"time"

	"jpyc-onchain-lab/internal/parallel"
)

// Status is the path that satisfied a request.
type Status string

const (
	StatusSuccess      Status = "SUCCESS"
	StatusFallbackUsed Status = "FALLBACK_USED"
	StatusFailed       Status = "FAILED"
)

// Func is a fetch returning T.
type Func[T any] func(ctx context.Context) (T, error)

// Result describes one primary/fallback execution.
type Result[T any] struct {
	Name         string
	Status       Status
	Data         T
	UsedFallback bool
	PrimaryErr   error
	FallbackErr  error
	Duration     time.Duration
}

// OK reports whether either path produced data.
func (r Result[T]) OK() bool {
	return r.Status == StatusSuccess || r.Status == StatusFallbackUsed
}

// Err joins every recorded failure. It is nil unless Status is StatusFailed.
func (r Result[T]) Err() error {
	if r.Status != StatusFailed {
		return nil
	}
	return errors.Join(r.PrimaryErr, r.FallbackErr)
}

// Execute tries primary, then fallback when primary fails. fallback may be nil.
func Execute[T any](ctx context.Context, primary, fallback Func[T]) Result[T] {
	start := time.Now()
	res := execute(ctx, primary, fallback)
	res.Duration = time.Since(start)
	return res
}

func execute[T any](ctx context.Context, primary, fallback Func[T]) Result[T] {
	data, err := primary(ctx)
	if err == nil {
		return Result[T]{Status: StatusSuccess, Data: data}
	}
	res := Result[T]{Status: StatusFailed, PrimaryErr: err}
	if fallback == nil {
		return res
	}

	res.UsedFallback = true
	data, err = fallback(ctx)
	if err != nil {
		res.FallbackErr = err
		return res
	}
	res.Status = StatusFallbackUsed
	res.Data = data
	return res
}

// Operation is a named primary/fallback pair.
type Operation[T any] struct {
	Name     string
	Primary  Func[T]
	Fallback Func[T]
	Timeout  time.Duration
}

// ParallelResult aggregates concurrently executed operations.
type ParallelResult[T any] struct {
	Results           []Result[T]
	HasAnySuccess     bool
	HasPartialSuccess bool
	SuccessCount      int
	FallbackCount     int
	FailureCount      int
}

// Get returns the result for name.
func (p *ParallelResult[T]) Get(name string) (Result[T], bool) {
	for _, r := range p.Results {
		if r.Name == name {
			return r, true
		}
	}
	return Result[T]{}, false
}

// ExecuteParallel runs every operation through Execute concurrently. The
// primary and the fallback each get the full per-operation timeout, so a
// hanging primary still leaves the fallback a fresh budget. An operation
// aborted by ctx counts as failed with that error as its primary error.
func ExecuteParallel[T any](ctx context.Context, ops []Operation[T], opts parallel.Options) *ParallelResult[T] {
	out := &ParallelResult[T]{Results: make([]Result[T], len(ops))}
	if len(ops) == 0 {
		return out
	}

	pops := make([]parallel.Operation[Result[T]], len(ops))
	for i, op := range ops {
		timeout := op.Timeout
		if timeout <= 0 {
			timeout = opts.Timeout
		}
		if timeout <= 0 {
			timeout = parallel.DefaultTimeout
		}
		primary := bounded(op.Name+" (primary)", op.Primary, timeout)
		fb := bounded(op.Name+" (fallback)", op.Fallback, timeout)
		pops[i] = parallel.Operation[Result[T]]{
			Name: op.Name,
			// Both legs bound themselves; this only guards the bookkeeping.
			Timeout: 2*timeout + legSlack,
			Fn: func(ctx context.Context) (Result[T], error) {
				return Execute(ctx, primary, fb), nil
			},
		}
	}

	pres, err := parallel.Execute(ctx, pops, opts)
	for i, op := range ops {
		switch {
		case err != nil:
			out.Results[i] = Result[T]{Name: op.Name, Status: StatusFailed, PrimaryErr: err}
		case pres.Results[i].Status == parallel.StatusSuccess:
			r := pres.Results[i].Data
			r.Name = op.Name
			r.Duration = pres.Results[i].Duration
			out.Results[i] = r
		default:
			out.Results[i] = Result[T]{
				Name:       op.Name,
				Status:     StatusFailed,
				PrimaryErr: pres.Results[i].Err,
				Duration:   pres.Results[i].Duration,
			}
		}
	}

	for _, r := range out.Results {
		switch r.Status {
		case StatusSuccess:
			out.SuccessCount++
		case StatusFallbackUsed:
			out.FallbackCount++
		default:
			out.FailureCount++
		}
	}
	out.HasAnySuccess = out.SuccessCount+out.FallbackCount > 0
	out.HasPartialSuccess = out.HasAnySuccess && out.FailureCount > 0
	return out
}

const legSlack = time.Second

// bounded runs fn under its own deadline. A nil fn stays nil.
func bounded[T any](name string, fn Func[T], timeout time.Duration) Func[T] {
	if fn == nil {
		return nil
	}
	return func(ctx context.Context) (T, error) {
		o := parallel.Run(ctx, parallel.Operation[T]{Name: name, Fn: fn, Timeout: timeout}, timeout)
		return o.Data, o.Err
	}
}
