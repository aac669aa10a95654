package observability

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultRecorderCapacity bounds the number of retained measurements.
const DefaultRecorderCapacity = 1000

// Measurement is one timed operation.
type Measurement struct {
	Name      string            `json:"name"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// OperationStats summarizes measurements for one operation name.
type OperationStats struct {
	Name        string        `json:"name"`
	Count       int           `json:"count"`
	AvgDuration time.Duration `json:"avgDuration"`
	MinDuration time.Duration `json:"minDuration"`
	MaxDuration time.Duration `json:"maxDuration"`
	SuccessRate float64       `json:"successRate"` // percent
}

// Recorder keeps a bounded, in-memory log of operation timings.
type Recorder struct {
	mu       sync.Mutex
	entries  []Measurement
	capacity int
	now      func() time.Time
}

// NewRecorder creates a Recorder. capacity <= 0 uses DefaultRecorderCapacity.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultRecorderCapacity
	}
	return &Recorder{capacity: capacity, now: time.Now}
}

// Measure runs fn, records its duration and outcome under name, and
// returns fn's result unchanged.
func Measure[T any](ctx context.Context, r *Recorder, name string, fn func(context.Context) (T, error), metadata map[string]string) (T, error) {
	if r == nil {
		return fn(ctx)
	}
	start := r.now()
	v, err := fn(ctx)
	m := Measurement{
		Name:      name,
		Duration:  r.now().Sub(start),
		Timestamp: start,
		Success:   err == nil,
		Metadata:  metadata,
	}
	if err != nil {
		m.Error = err.Error()
	}
	r.Record(m)
	return v, err
}

// Record appends m, evicting the oldest measurement at capacity.
func (r *Recorder) Record(m Measurement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) >= r.capacity {
		copy(r.entries, r.entries[1:])
		r.entries = r.entries[:len(r.entries)-1]
	}
	r.entries = append(r.entries, m)
}

// Metrics returns recorded measurements, filtered by name when non-empty.
func (r *Recorder) Metrics(name string) []Measurement {
	return r.filter(func(m Measurement) bool { return name == "" || m.Name == name })
}

// Clear drops measurements for name, or all of them when name is empty.
func (r *Recorder) Clear(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" {
		r.entries = nil
		return
	}
	kept := r.entries[:0]
	for _, m := range r.entries {
		if m.Name != name {
			kept = append(kept, m)
		}
	}
	r.entries = kept
}

// Stats summarizes one operation. An unknown name yields zero values.
func (r *Recorder) Stats(name string) OperationStats {
	return stats(name, r.Metrics(name))
}

// AllStats returns stats for every recorded name in first-seen order.
func (r *Recorder) AllStats() []OperationStats {
	all := r.Metrics("")
	var names []string
	byName := make(map[string][]Measurement)
	for _, m := range all {
		if _, ok := byName[m.Name]; !ok {
			names = append(names, m.Name)
		}
		byName[m.Name] = append(byName[m.Name], m)
	}
	out := make([]OperationStats, 0, len(names))
	for _, name := range names {
		out = append(out, stats(name, byName[name]))
	}
	return out
}

// Recent returns up to limit measurements, newest first. limit <= 0 means 10.
func (r *Recorder) Recent(limit int) []Measurement {
	if limit <= 0 {
		limit = 10
	}
	all := r.Metrics("")
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// ByTimeRange returns measurements with start <= timestamp <= end.
func (r *Recorder) ByTimeRange(start, end time.Time) []Measurement {
	return r.filter(func(m Measurement) bool {
		return !m.Timestamp.Before(start) && !m.Timestamp.After(end)
	})
}

// ByMetadata returns measurements whose metadata[key] equals value.
func (r *Recorder) ByMetadata(key, value string) []Measurement {
	return r.filter(func(m Measurement) bool {
		v, ok := m.Metadata[key]
		return ok && v == value
	})
}

// Percentile returns the nearest-rank p-th percentile duration for name.
func (r *Recorder) Percentile(name string, p float64) time.Duration {
	ms := r.Metrics(name)
	if len(ms) == 0 {
		return 0
	}
	durations := make([]time.Duration, len(ms))
	for i, m := range ms {
		durations[i] = m.Duration
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	idx := int(math.Ceil(p/100*float64(len(durations)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(durations) {
		idx = len(durations) - 1
	}
	return durations[idx]
}

// Summary renders a plain-text report of every operation.
func (r *Recorder) Summary() string {
	all := r.AllStats()
	if len(all) == 0 {
		return "No metrics recorded."
	}
	var b strings.Builder
	b.WriteString("Performance Metrics Summary\n")
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n")
	for _, s := range all {
		fmt.Fprintf(&b, "\nOperation: %s\n", s.Name)
		fmt.Fprintf(&b, "  Count: %d\n", s.Count)
		fmt.Fprintf(&b, "  Avg Duration: %.2fms\n", millis(s.AvgDuration))
		fmt.Fprintf(&b, "  Min Duration: %.2fms\n", millis(s.MinDuration))
		fmt.Fprintf(&b, "  Max Duration: %.2fms\n", millis(s.MaxDuration))
		fmt.Fprintf(&b, "  Success Rate: %.2f%%\n", s.SuccessRate)
	}
	return b.String()
}

func (r *Recorder) filter(keep func(Measurement) bool) []Measurement {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Measurement
	for _, m := range r.entries {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

func stats(name string, ms []Measurement) OperationStats {
	s := OperationStats{Name: name, Count: len(ms)}
	if len(ms) == 0 {
		return s
	}
	var total time.Duration
	successes := 0
	s.MinDuration = ms[0].Duration
	for _, m := range ms {
		total += m.Duration
		if m.Duration < s.MinDuration {
			s.MinDuration = m.Duration
		}
		if m.Duration > s.MaxDuration {
			s.MaxDuration = m.Duration
		}
		if m.Success {
			successes++
		}
	}
	s.AvgDuration = total / time.Duration(len(ms))
	s.SuccessRate = float64(successes) / float64(len(ms)) * 100
	return s
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
