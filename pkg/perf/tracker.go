// Package perf provides in-process timing instrumentation for the dispatch
// pipeline. It observes; it never participates in correctness. Slow or
// missing observability must not slow down or fail order submission.
package perf

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Tier is a qualitative rating of an operation's mean latency
type Tier string

// Latency tiers
const (
	TierGood     Tier = "good"
	TierModerate Tier = "moderate"
	TierPoor     Tier = "poor"
)

// Tier thresholds against mean duration
const (
	goodBelow     = 500 * time.Millisecond
	moderateUpTo  = 1000 * time.Millisecond
	recentSpanCap = 256
)

func tierFor(mean time.Duration) Tier {
	switch {
	case mean < goodBelow:
		return TierGood
	case mean <= moderateUpTo:
		return TierModerate
	default:
		return TierPoor
	}
}

// Span is a named interval opened by a Tracker. End closes it exactly once;
// extra End calls are harmless. Every code path that opens a span must close
// it, error paths included.
type Span struct {
	tracker *Tracker
	name    string
	parent  *Span
	start   time.Time
	end     time.Time
	closed  atomic.Bool
	once    sync.Once
}

// Name returns the operation name the span times
func (s *Span) Name() string {
	return s.name
}

// Start returns the open timestamp
func (s *Span) Start() time.Time {
	return s.start
}

// End closes the span and folds its duration into the tracker
func (s *Span) End() {
	s.once.Do(func() {
		s.end = time.Now()
		s.closed.Store(true)

		parent := ""
		if s.parent != nil {
			parent = s.parent.name
		}
		s.tracker.fold(SpanRecord{
			Name:     s.name,
			Parent:   parent,
			Start:    s.start,
			End:      s.end,
			Duration: s.end.Sub(s.start),
		})
	})
}

// Closed reports whether End has run
func (s *Span) Closed() bool {
	return s.closed.Load()
}

// Duration returns the measured interval; zero until the span is closed
func (s *Span) Duration() time.Duration {
	if !s.Closed() {
		return 0
	}
	return s.end.Sub(s.start)
}

// SpanRecord is one closed span kept for the raw-metrics query
type SpanRecord struct {
	Name     string        `json:"name"`
	Parent   string        `json:"parent,omitempty"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
}

// Summary aggregates all closed spans of one operation name
type Summary struct {
	Name  string        `json:"name"`
	Count int64         `json:"count"`
	Total time.Duration `json:"total"`
	Mean  time.Duration `json:"mean"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Last  time.Duration `json:"last"`
	Tier  Tier          `json:"tier"`
}

type opStats struct {
	count int64
	total time.Duration
	min   time.Duration
	max   time.Duration
	last  time.Duration
}

// Tracker aggregates span durations per operation name and keeps a bounded
// ring of recent closed spans. Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	stats  map[string]*opStats
	recent []SpanRecord
	next   int
	filled bool
	logger zerolog.Logger
}

// NewTracker creates an empty tracker
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		stats:  make(map[string]*opStats),
		recent: make([]SpanRecord, 0, recentSpanCap),
		logger: logger.With().Str("component", "perf").Logger(),
	}
}

// StartSpan opens a root span for the named operation
func (t *Tracker) StartSpan(name string) *Span {
	return &Span{
		tracker: t,
		name:    name,
		start:   time.Now(),
	}
}

// StartChildSpan opens a span nested under parent
func (t *Tracker) StartChildSpan(parent *Span, name string) *Span {
	return &Span{
		tracker: t,
		name:    name,
		parent:  parent,
		start:   time.Now(),
	}
}

// Track runs fn inside a span, guaranteeing closure on every exit path
func (t *Tracker) Track(name string, fn func() error) error {
	span := t.StartSpan(name)
	defer span.End()
	return fn()
}

// Record folds an externally measured duration into the named aggregate
func (t *Tracker) Record(name string, d time.Duration) {
	t.fold(SpanRecord{Name: name, Duration: d, End: time.Now()})
}

func (t *Tracker) fold(rec SpanRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.stats[rec.Name]
	if !ok {
		st = &opStats{min: rec.Duration, max: rec.Duration}
		t.stats[rec.Name] = st
	}

	st.count++
	st.total += rec.Duration
	st.last = rec.Duration
	if rec.Duration < st.min {
		st.min = rec.Duration
	}
	if rec.Duration > st.max {
		st.max = rec.Duration
	}

	if len(t.recent) < recentSpanCap {
		t.recent = append(t.recent, rec)
		return
	}
	t.recent[t.next] = rec
	t.next = (t.next + 1) % recentSpanCap
	t.filled = true
}

// Summarize computes per-operation summaries sorted by name. Operations in
// the poor tier are flagged with a warning.
func (t *Tracker) Summarize() []Summary {
	t.mu.Lock()
	summaries := make([]Summary, 0, len(t.stats))
	for name, st := range t.stats {
		mean := time.Duration(int64(st.total) / st.count)
		summaries = append(summaries, Summary{
			Name:  name,
			Count: st.count,
			Total: st.total,
			Mean:  mean,
			Min:   st.min,
			Max:   st.max,
			Last:  st.last,
			Tier:  tierFor(mean),
		})
	}
	t.mu.Unlock()

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Name < summaries[j].Name
	})

	for _, s := range summaries {
		if s.Tier == TierPoor {
			t.logger.Warn().
				Str("op", s.Name).
				Dur("mean", s.Mean).
				Int64("count", s.Count).
				Msg("Operation latency in poor tier")
		}
	}

	return summaries
}

// RecentSpans returns the retained closed spans, oldest first
func (t *Tracker) RecentSpans() []SpanRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.filled {
		out := make([]SpanRecord, len(t.recent))
		copy(out, t.recent)
		return out
	}

	out := make([]SpanRecord, 0, recentSpanCap)
	out = append(out, t.recent[t.next:]...)
	out = append(out, t.recent[:t.next]...)
	return out
}

// Reset discards all aggregates and retained spans
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats = make(map[string]*opStats)
	t.recent = t.recent[:0]
	t.next = 0
	t.filled = false
}
