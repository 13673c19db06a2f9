package perf

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultReportInterval is how often summaries are emitted when the
// caller does not choose an interval
const DefaultReportInterval = 5 * time.Minute

// ErrReporterRunning is returned when Start is called twice
var ErrReporterRunning = errors.New("reporter already running")

// Reporter periodically emits the tracker's summaries to the log. It runs
// on its own goroutine and swallows its own failures so that slow or broken
// logging can never stall the dispatch path.
type Reporter struct {
	tracker  *Tracker
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewReporter creates a reporter for the tracker. Non-positive intervals
// fall back to DefaultReportInterval.
func NewReporter(tracker *Tracker, interval time.Duration, logger zerolog.Logger) *Reporter {
	if interval <= 0 {
		interval = DefaultReportInterval
	}

	return &Reporter{
		tracker:  tracker,
		interval: interval,
		logger:   logger.With().Str("component", "perf-reporter").Logger(),
	}
}

// Start launches the reporting loop
func (r *Reporter) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrReporterRunning
	}

	r.running = true
	r.stopCh = make(chan struct{})
	r.wg.Add(1)
	go r.run()

	return nil
}

// Stop halts the reporting loop and waits for it to finish
func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Reporter) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.report()
		}
	}
}

// report emits one summary round. Panics from the logging sink are
// absorbed here; instrumentation never takes down the dispatcher.
func (r *Reporter) report() {
	defer func() {
		if rec := recover(); rec != nil {
			defer func() { _ = recover() }()
			r.logger.Error().Interface("panic", rec).Msg("Performance report failed")
		}
	}()

	summaries := r.tracker.Summarize()
	if len(summaries) == 0 {
		return
	}

	for _, s := range summaries {
		r.logger.Info().
			Str("op", s.Name).
			Int64("count", s.Count).
			Dur("total", s.Total).
			Dur("mean", s.Mean).
			Dur("min", s.Min).
			Dur("max", s.Max).
			Dur("last", s.Last).
			Str("tier", string(s.Tier)).
			Msg("Performance summary")
	}
}
