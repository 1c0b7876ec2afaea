package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData means an indicator lacked history. The signal is dropped.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrDuplicateExposure means the instrument is already held.
	ErrDuplicateExposure = errors.New("duplicate exposure")
	// ErrAllocationExceeded means sizing would breach the allocation cap.
	ErrAllocationExceeded = errors.New("allocation exceeded")
	// ErrRouterFailure means an order router could not accept a submission.
	ErrRouterFailure = errors.New("router failure")

	ErrOutOfOrder     = errors.New("out-of-order input")
	ErrMalformedInput = errors.New("malformed input")
	ErrUnknownOrder   = errors.New("unknown order")
	ErrNotCancelable  = errors.New("order not cancelable")
	ErrNoPosition     = errors.New("no open position")
)

// Rejection is a non-fatal refusal to trade an instrument.
type Rejection struct {
	Reason       error
	InstrumentID string
	Detail       string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return fmt.Sprintf("%s: %v", r.InstrumentID, r.Reason)
	}
	return fmt.Sprintf("%s: %v: %s", r.InstrumentID, r.Reason, r.Detail)
}

func (r *Rejection) Unwrap() error {
	return r.Reason
}

// Reject builds a Rejection with a formatted detail.
func Reject(reason error, instrument string, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, InstrumentID: instrument, Detail: fmt.Sprintf(format, args...)}
}

// ReasonCode returns a stable metric/log label for a rejection cause.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrDuplicateExposure):
		return "duplicate_exposure"
	case errors.Is(err, ErrAllocationExceeded):
		return "allocation_exceeded"
	case errors.Is(err, ErrRouterFailure):
		return "router_failure"
	default:
		return "other"
	}
}
