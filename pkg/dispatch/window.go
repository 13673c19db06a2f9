package dispatch

import (
	"sync"
	"time"

	"github.com/erain9/batchingo/pkg/core"
)

// Window trigger defaults
const (
	DefaultSizeThreshold = 5
	DefaultTimeout       = time.Second
)

type flushFunc func(gen uint64, reason core.FlushReason)

// Window owns the two flush triggers. The first request of a window arms a
// timer; reaching the size threshold cuts the batch early, whichever comes
// first. Triggers invoke the flush function with the window generation they
// observed, and the generation-checked drain guarantees exactly one flush
// per window: a timer left over from a window that was size-flushed,
// emptied by cancellation, or re-observed out of order fires into a stale
// generation and does nothing.
type Window struct {
	threshold int
	timeout   time.Duration
	flush     flushFunc

	mu       sync.Mutex
	timer    *time.Timer
	timerGen uint64
}

// NewWindow creates a window controller. Non-positive parameters fall back
// to the defaults.
func NewWindow(threshold int, timeout time.Duration, flush flushFunc) *Window {
	if threshold <= 0 {
		threshold = DefaultSizeThreshold
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Window{
		threshold: threshold,
		timeout:   timeout,
		flush:     flush,
	}
}

// Observe reacts to one admitted request. The first request arms the
// window's timer; the request that reaches the size threshold cancels the
// timer and flushes immediately.
func (w *Window) Observe(pos Position) {
	if pos.Count >= w.threshold {
		w.disarm(pos.Gen)
		w.flush(pos.Gen, core.FlushSize)
		return
	}
	if pos.Count == 1 {
		w.arm(pos.Gen)
	}
}

func (w *Window) arm(gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// A submitter can be preempted between Enqueue and Observe, so an arm
	// for an already-drained generation may arrive after the next window
	// armed its own timer. Generations are monotonic: never let an older
	// one replace a newer timer, or the live window loses its timeout.
	if gen < w.timerGen {
		return
	}
	if w.timer != nil {
		if w.timerGen == gen {
			return
		}
		w.timer.Stop()
	}
	w.timerGen = gen
	w.timer = time.AfterFunc(w.timeout, func() {
		w.fire(gen)
	})
}

func (w *Window) fire(gen uint64) {
	w.mu.Lock()
	if w.timerGen == gen {
		w.timer = nil
	}
	w.mu.Unlock()

	w.flush(gen, core.FlushTimeout)
}

func (w *Window) disarm(gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil && w.timerGen == gen {
		w.timer.Stop()
		w.timer = nil
	}
}

// Stop cancels any armed timer. In-flight trigger callbacks drain against
// a stale generation and are harmless.
func (w *Window) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Threshold returns the size trigger
func (w *Window) Threshold() int {
	return w.threshold
}

// Timeout returns the time trigger
func (w *Window) Timeout() time.Duration {
	return w.timeout
}
