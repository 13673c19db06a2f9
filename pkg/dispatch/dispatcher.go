// Package dispatch implements a time and size windowed batching dispatcher
// for order submission against a slow, rate-limited backend. Callers submit
// individual requests and await a completion handle; the dispatcher
// accumulates requests into windows, cuts a batch when the size threshold
// or the window timeout is reached, submits the batch in one backend call
// when the backend supports it, and degrades to per-order submission when
// it does not. Draining and dispatching are decoupled, so new requests keep
// accumulating into the next window while the previous batch is still on
// the wire.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/erain9/batchingo/pkg/core"
	"github.com/erain9/batchingo/pkg/perf"
)

// Dispatch defaults
const (
	DefaultDispatchTimeout = 10 * time.Second
	DefaultWorkers         = 1
	DefaultFallbackLimit   = 1
)

// Lifecycle errors
var (
	ErrNotStarted     = errors.New("dispatcher not started")
	ErrAlreadyStarted = errors.New("dispatcher already started")
)

// Observer receives a notification after every dispatched batch. Used to
// feed external metrics; failures and panics in the observer are absorbed.
type Observer interface {
	BatchDispatched(batch *core.Batch, outcome *core.DispatchOutcome, elapsed time.Duration)
}

// Options configures a Dispatcher. Callers usually start from
// DefaultOptions and override fields; zero numeric fields fall back to the
// defaults, Enabled is taken as given.
type Options struct {
	// SizeThreshold cuts the window when the pending count reaches it.
	SizeThreshold int
	// Timeout cuts the window when it elapses after the first request.
	Timeout time.Duration
	// Capacity bounds the pending queue.
	Capacity int
	// DispatchTimeout bounds each backend call, batched or individual.
	DispatchTimeout time.Duration
	// Workers sets how many batches may be in flight at once. The default
	// of 1 serializes dispatch, which keeps transaction ordering safe for
	// nonce-based backends.
	Workers int
	// FallbackLimit bounds concurrent individual submissions during
	// fallback.
	FallbackLimit int
	// Enabled toggles batching. When false every request is submitted
	// individually and immediately.
	Enabled bool

	Logger   zerolog.Logger
	Tracker  *perf.Tracker
	Observer Observer
}

// DefaultOptions returns the standard configuration
func DefaultOptions() Options {
	return Options{
		SizeThreshold:   DefaultSizeThreshold,
		Timeout:         DefaultTimeout,
		Capacity:        DefaultCapacity,
		DispatchTimeout: DefaultDispatchTimeout,
		Workers:         DefaultWorkers,
		FallbackLimit:   DefaultFallbackLimit,
		Enabled:         true,
	}
}

type job struct {
	batch   *core.Batch
	handles []*Handle
}

// Dispatcher is the single entry point for order submission. It owns its
// queue, window, worker pool, and tracker; construct one per backend
// session and tear it down with Stop.
type Dispatcher struct {
	opts    Options
	backend core.OrderSubmitter
	batcher core.BatchSubmitter
	queue   *Queue
	window  *Window
	router  *Router
	tracker *perf.Tracker
	logger  zerolog.Logger

	workCh chan job
	stopCh chan struct{}
	// sendMu serializes drain-and-hand-off so batches reach the workers
	// in the order they were cut. It also orders flushWindow's inflight
	// registration against Stop: once draining is set, Stop owns the
	// queue and late trigger callbacks must not touch the counter.
	sendMu   sync.Mutex
	draining bool
	wg       sync.WaitGroup
	inflight sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

// New creates a Dispatcher over the backend. The backend's batch
// capability is detected here, once, by type assertion; a backend without
// it always takes the individual path.
func New(backend core.OrderSubmitter, opts Options) (*Dispatcher, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: nil backend", core.ErrInvalidArgument)
	}

	if opts.SizeThreshold <= 0 {
		opts.SizeThreshold = DefaultSizeThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = DefaultDispatchTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.FallbackLimit <= 0 {
		opts.FallbackLimit = DefaultFallbackLimit
	}

	logger := opts.Logger.With().Str("component", "dispatcher").Logger()
	if opts.Tracker == nil {
		opts.Tracker = perf.NewTracker(opts.Logger)
	}

	d := &Dispatcher{
		opts:    opts,
		backend: backend,
		queue:   NewQueue(opts.Capacity),
		router:  NewRouter(opts.Logger),
		tracker: opts.Tracker,
		logger:  logger,
		workCh:  make(chan job, opts.Workers*2),
		stopCh:  make(chan struct{}),
	}
	d.batcher, _ = backend.(core.BatchSubmitter)
	d.window = NewWindow(opts.SizeThreshold, opts.Timeout, d.flushWindow)

	logger.Info().
		Bool("batched", d.batcher != nil).
		Bool("enabled", opts.Enabled).
		Int("sizeThreshold", opts.SizeThreshold).
		Dur("timeout", opts.Timeout).
		Int("workers", opts.Workers).
		Msg("Dispatcher created")

	return d, nil
}

// Start launches the dispatch workers
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return ErrAlreadyStarted
	}
	if d.stopped {
		return core.ErrQueueClosed
	}
	d.started = true

	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	d.logger.Info().Msg("Dispatcher started")
	return nil
}

// Submit accepts one order request and returns the handle its caller
// awaits. With batching enabled the request joins the current window and
// the handle resolves after that window's batch is dispatched; disabled,
// the request is submitted individually right away. Queue rejections
// (duplicate identifier, capacity, closed) surface synchronously.
func (d *Dispatcher) Submit(ctx context.Context, req *core.OrderRequest) (*Handle, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", core.ErrInvalidArgument)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return nil, core.ErrQueueClosed
	}
	if !d.started {
		return nil, ErrNotStarted
	}

	if !d.opts.Enabled {
		return d.submitImmediate(ctx, req)
	}

	handle, pos, err := d.queue.Enqueue(req)
	if err != nil {
		return nil, err
	}
	d.window.Observe(pos)

	return handle, nil
}

// Cancel removes a request that is still pending in the queue, resolving
// its handle with ErrRequestCanceled. It returns false when the request is
// not pending: either unknown, or already drained into a batch and in
// flight, in which case cancellation is ineffective.
func (d *Dispatcher) Cancel(id string) bool {
	return d.queue.Cancel(id)
}

// Stop closes the queue, gives pending requests a final dispatch, and
// waits for in-flight work bounded by ctx.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()

	d.logger.Info().Int("pending", d.queue.Len()).Msg("Dispatcher stopping")

	d.queue.Close()
	d.window.Stop()

	d.sendMu.Lock()
	d.draining = true
	final, handles := d.queue.DrainAll(core.FlushShutdown)
	d.sendMu.Unlock()

	close(d.stopCh)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn().Err(ctx.Err()).Msg("Dispatcher stop timed out waiting for in-flight work")
		return ctx.Err()
	}

	// Workers are gone and the queue is closed, so no new jobs can appear.
	// Dispatch whatever they left behind, then the shutdown batch.
	for {
		select {
		case j := <-d.workCh:
			d.dispatch(j)
			continue
		default:
		}
		break
	}
	if final != nil {
		d.dispatch(job{batch: final, handles: handles})
	}

	d.logger.Info().Msg("Dispatcher stopped")
	return nil
}

// Pending returns how many requests are waiting in the current window
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// Batched reports whether the backend supports batched submission
func (d *Dispatcher) Batched() bool {
	return d.batcher != nil
}

// Tracker exposes the performance tracker for summaries and raw spans
func (d *Dispatcher) Tracker() *perf.Tracker {
	return d.tracker
}

func (d *Dispatcher) submitImmediate(ctx context.Context, req *core.OrderRequest) (*Handle, error) {
	handle := newHandle(req.ID())
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		ref, err := d.submitOne(ctx, req)
		handle.resolve(ref, err)
	}()
	return handle, nil
}

// flushWindow is the window controller's flush target. It drains the
// observed generation and hands the batch to the workers. The hand-off can
// exert backpressure when every worker is busy and the buffer is full;
// during shutdown it diverts to dispatching inline so a cut batch is never
// abandoned.
func (d *Dispatcher) flushWindow(gen uint64, reason core.FlushReason) {
	d.sendMu.Lock()
	if d.draining {
		// Stop already drained the queue and may be waiting on the
		// in-flight counter; registering here would race its Wait.
		d.sendMu.Unlock()
		return
	}
	d.inflight.Add(1)
	defer d.inflight.Done()

	span := d.tracker.StartSpan("flush.drain")
	batch, handles := d.queue.Drain(gen, reason)
	span.End()
	if batch == nil {
		d.sendMu.Unlock()
		return
	}

	d.logger.Debug().
		Int("size", batch.Len()).
		Str("reason", string(reason)).
		Uint64("gen", gen).
		Msg("Window flushed")

	j := job{batch: batch, handles: handles}
	select {
	case d.workCh <- j:
		d.sendMu.Unlock()
	case <-d.stopCh:
		d.sendMu.Unlock()
		d.dispatch(j)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		case j := <-d.workCh:
			d.dispatch(j)
		}
	}
}

func (d *Dispatcher) dispatch(j job) {
	start := time.Now()
	for _, req := range j.batch.Requests() {
		d.tracker.Record("queue.wait", start.Sub(req.EnqueuedAt()))
	}

	outcome := d.attempt(j.batch)
	d.router.Route(j.batch, j.handles, outcome)

	if d.opts.Observer != nil {
		d.observe(j.batch, outcome, time.Since(start))
	}
}

func (d *Dispatcher) observe(batch *core.Batch, outcome *core.DispatchOutcome, elapsed time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error().Interface("panic", rec).Msg("Dispatch observer panicked")
		}
	}()
	d.opts.Observer.BatchDispatched(batch, outcome, elapsed)
}

// attempt performs the submission protocol for one batch: the batched call
// when the capability exists, then the individual fallback. Primary-path
// failures are recoverable and never reach callers directly; the fallback
// gives every request its own terminal outcome.
func (d *Dispatcher) attempt(batch *core.Batch) *core.DispatchOutcome {
	var batchErr error
	if d.batcher != nil {
		refs, err := d.submitBatched(batch)
		if err == nil {
			outcome, merr := core.NewBatchedOutcome(batch, refs)
			if merr == nil {
				return outcome
			}
			// Backend protocol violation: refs cannot be matched to
			// requests, so no result can be trusted.
			d.logger.Warn().
				Int("requests", batch.Len()).
				Int("refs", len(refs)).
				Msg("Batched call returned mismatched reference count")
			err = merr
		}
		batchErr = fmt.Errorf("%w: %v", core.ErrBatchDispatch, err)
		d.logger.Warn().
			Err(err).
			Int("size", batch.Len()).
			Str("reason", string(batch.Reason())).
			Msg("Batched submission failed, falling back to individual orders")
	}

	return core.NewFallbackOutcome(batchErr, d.submitIndividually(batch))
}

func (d *Dispatcher) submitBatched(batch *core.Batch) ([]string, error) {
	span := d.tracker.StartSpan("dispatch.batch")
	defer span.End()

	ctx, cancel := context.WithTimeout(context.Background(), d.opts.DispatchTimeout)
	defer cancel()

	return d.batcher.SubmitOrders(ctx, batch.Requests())
}

// submitIndividually submits every request of the batch on its own, with
// bounded concurrency. Outcomes are captured independently so one bad
// order never fails its batch-mates.
func (d *Dispatcher) submitIndividually(batch *core.Batch) []core.ItemOutcome {
	span := d.tracker.StartSpan("dispatch.fallback")
	defer span.End()

	items := make([]core.ItemOutcome, batch.Len())
	var g errgroup.Group
	g.SetLimit(d.opts.FallbackLimit)
	for i, req := range batch.Requests() {
		g.Go(func() error {
			ref, err := d.submitOne(context.Background(), req)
			items[i] = core.ItemOutcome{RequestID: req.ID(), Ref: ref, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return items
}

func (d *Dispatcher) submitOne(ctx context.Context, req *core.OrderRequest) (string, error) {
	span := d.tracker.StartSpan("dispatch.single")
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, d.opts.DispatchTimeout)
	defer cancel()

	return d.backend.SubmitOrder(cctx, req)
}
