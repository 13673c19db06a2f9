package dispatch

import (
	"context"
	"sync"
)

// Handle is the completion handle returned by Submit. The caller awaits it
// for the terminal outcome of its own request: a submission reference or a
// specific error. A handle resolves exactly once.
type Handle struct {
	id   string
	done chan struct{}
	once sync.Once

	ref string
	err error
}

func newHandle(id string) *Handle {
	return &Handle{
		id:   id,
		done: make(chan struct{}),
	}
}

// ID returns the request identifier the handle belongs to
func (h *Handle) ID() string {
	return h.id
}

// resolve sets the outcome. Later calls are no-ops; the first writer wins.
func (h *Handle) resolve(ref string, err error) {
	h.once.Do(func() {
		h.ref = ref
		h.err = err
		close(h.done)
	})
}

// Done returns a channel closed when the handle resolves
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Resolved reports whether an outcome has been set
func (h *Handle) Resolved() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the handle resolves or ctx ends. On resolution it
// returns the submission reference or the request's terminal error. A ctx
// error leaves the handle pending; Wait may be called again.
func (h *Handle) Wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-h.done:
		return h.ref, h.err
	}
}
