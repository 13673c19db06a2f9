package core

import "errors"

// Errors
var (
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrInvalidPrice         = errors.New("invalid price")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrDuplicateRequest     = errors.New("request id already pending")
	ErrQueueFull            = errors.New("queue at capacity")
	ErrQueueClosed          = errors.New("queue closed")
	ErrBatchDispatch        = errors.New("batch dispatch failed")
	ErrMalformedBatchResult = errors.New("batch result count mismatch")
	ErrSubmissionFailed     = errors.New("order submission failed")
	ErrRequestCanceled      = errors.New("request canceled before dispatch")
	ErrCancelUnsupported    = errors.New("cancellation not supported by backend")
	ErrUnknownOrder         = errors.New("unknown order")
)
