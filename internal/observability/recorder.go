// Package observability collects per-operation latency samples from the
// store and sync layers and aggregates them into rolling-window summaries
// for the admin metrics endpoint.
package observability

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

// Outcome classifies how a recorded operation finished.
type Outcome string

const (
	// OutcomeOK marks a successful operation.
	OutcomeOK Outcome = "ok"
	// OutcomeError marks a failed operation.
	OutcomeError Outcome = "error"
)

// OutcomeFor maps an error result to an outcome.
func OutcomeFor(err error) Outcome {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

// DefaultWindowSize is the number of samples kept per operation name.
const DefaultWindowSize = 512

// Recorder aggregates {name, duration, outcome} reports in memory.
// It is safe for concurrent use.
type Recorder struct {
	mu         sync.RWMutex
	windows    map[string]*window
	windowSize int
}

type window struct {
	samples    []int64 // latencies in milliseconds, oldest first
	totalCount int64
	errorCount int64
}

// NewRecorder creates a recorder keeping windowSize samples per operation.
// A non-positive windowSize falls back to DefaultWindowSize.
func NewRecorder(windowSize int) *Recorder {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Recorder{
		windows:    make(map[string]*window),
		windowSize: windowSize,
	}
}

// Record adds one sample for the named operation.
func (r *Recorder) Record(name string, duration time.Duration, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[name]
	if !ok {
		w = &window{samples: make([]int64, 0, r.windowSize)}
		r.windows[name] = w
	}

	if len(w.samples) >= r.windowSize {
		// Drop the oldest sample (FIFO) to keep the window bounded.
		w.samples = w.samples[1:]
	}
	w.samples = append(w.samples, duration.Milliseconds())
	w.totalCount++
	if outcome == OutcomeError {
		w.errorCount++
	}
}

// Summary describes the rolling window of one operation.
type Summary struct {
	Name       string  `json:"name"`
	Count      int     `json:"count"`
	TotalCount int64   `json:"total_count"`
	ErrorCount int64   `json:"error_count"`
	MinMs      int64   `json:"min_ms"`
	MaxMs      int64   `json:"max_ms"`
	AvgMs      float64 `json:"avg_ms"`
	P50Ms      int64   `json:"p50_ms"`
	P95Ms      int64   `json:"p95_ms"`
	P99Ms      int64   `json:"p99_ms"`
}

// Summary returns the rolling-window summary for one operation name.
func (r *Recorder) Summary(name string) (*Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.windows[name]
	if !ok || len(w.samples) == 0 {
		return nil, false
	}
	return summarize(name, w), true
}

// Summaries returns summaries for every recorded operation, sorted by name.
func (r *Recorder) Summaries() []*Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]*Summary, 0, len(r.windows))
	for name, w := range r.windows {
		if len(w.samples) == 0 {
			continue
		}
		summaries = append(summaries, summarize(name, w))
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries
}

// Reset clears all windows and counters.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = make(map[string]*window)
}

// LogSummaries writes one log line per operation; wired to the periodic
// rollup job so latency trends survive in logs even without the admin API.
func (r *Recorder) LogSummaries(logger *slog.Logger) {
	for _, s := range r.Summaries() {
		logger.Info("op metrics",
			slog.String("op", s.Name),
			slog.Int("window", s.Count),
			slog.Int64("total", s.TotalCount),
			slog.Int64("errors", s.ErrorCount),
			slog.Float64("avg_ms", s.AvgMs),
			slog.Int64("p50_ms", s.P50Ms),
			slog.Int64("p95_ms", s.P95Ms),
			slog.Int64("p99_ms", s.P99Ms))
	}
}

func summarize(name string, w *window) *Summary {
	sorted := make([]int64, len(w.samples))
	copy(sorted, w.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, v := range sorted {
		sum += v
	}

	return &Summary{
		Name:       name,
		Count:      len(sorted),
		TotalCount: w.totalCount,
		ErrorCount: w.errorCount,
		MinMs:      sorted[0],
		MaxMs:      sorted[len(sorted)-1],
		AvgMs:      float64(sum) / float64(len(sorted)),
		P50Ms:      percentile(sorted, 50),
		P95Ms:      percentile(sorted, 95),
		P99Ms:      percentile(sorted, 99),
	}
}

// percentile returns the ceiling-index percentile of pre-sorted samples:
// the smallest sample such that at least p percent of samples are <= it.
func percentile(sorted []int64, p int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(float64(p)/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
