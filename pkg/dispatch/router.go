package dispatch

import (
	"github.com/rs/zerolog"

	"github.com/erain9/batchingo/pkg/core"
)

// Router resolves each drained request's completion handle with its own
// entry from a dispatch outcome. Every request that was ever drained into
// a batch receives exactly one resolution: never zero, never two.
type Router struct {
	logger zerolog.Logger
}

// NewRouter creates a router
func NewRouter(logger zerolog.Logger) *Router {
	return &Router{
		logger: logger.With().Str("component", "router").Logger(),
	}
}

// Route zips the outcome's items with the batch's handles positionally.
// A count or identity mismatch between the two is a protocol violation;
// rather than guess at a mapping, Route fails every affected handle with
// ErrMalformedBatchResult so no caller hangs or receives a stranger's
// result.
func (r *Router) Route(batch *core.Batch, handles []*Handle, outcome *core.DispatchOutcome) {
	if len(handles) != batch.Len() || len(outcome.Items) != batch.Len() {
		r.logger.Error().
			Int("requests", batch.Len()).
			Int("handles", len(handles)).
			Int("outcomes", len(outcome.Items)).
			Msg("Outcome count mismatch, failing whole batch")
		for _, h := range handles {
			h.resolve("", core.ErrMalformedBatchResult)
		}
		return
	}

	for i, h := range handles {
		item := outcome.Items[i]
		if item.RequestID != h.ID() {
			r.logger.Error().
				Str("handle", h.ID()).
				Str("outcome", item.RequestID).
				Msg("Outcome identity mismatch, failing request")
			h.resolve("", core.ErrMalformedBatchResult)
			continue
		}
		h.resolve(item.Ref, item.Err)
	}

	r.logger.Debug().
		Int("size", batch.Len()).
		Int("succeeded", outcome.Succeeded()).
		Int("failed", outcome.Failed()).
		Bool("fallback", outcome.Fallback).
		Str("reason", string(batch.Reason())).
		Msg("Batch outcome routed")
}
