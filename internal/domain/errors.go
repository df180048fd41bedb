package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("conditional update lost the race")
	ErrNotActive     = errors.New("auction is not active")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
)

// RejectReason enumerates why a bid submission was refused. Every rejection
// carries exactly one reason so clients can decide between correcting their
// input (BidTooLow), re-fetching state (ConcurrentConflict), or giving up.
type RejectReason string

const (
	ReasonNotFound           RejectReason = "not_found"
	ReasonNotActive          RejectReason = "not_active"
	ReasonExpired            RejectReason = "expired"
	ReasonBidTooLow          RejectReason = "bid_too_low"
	ReasonSelfBid            RejectReason = "self_bid"
	ReasonConcurrentConflict RejectReason = "concurrent_conflict"
	ReasonPersistence        RejectReason = "persistence_unavailable"
)

// BidRejectedError is a terminal validation failure for a single submission.
// It is never retried internally; the caller must resubmit if still interested.
type BidRejectedError struct {
	Reason  RejectReason
	Message string
}

func (e *BidRejectedError) Error() string {
	return fmt.Sprintf("bid rejected (%s): %s", e.Reason, e.Message)
}

// Reject builds a BidRejectedError with a formatted message.
func Reject(reason RejectReason, format string, args ...any) *BidRejectedError {
	return &BidRejectedError{
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
	}
}

// AsRejection unwraps err into a *BidRejectedError if it is one.
func AsRejection(err error) (*BidRejectedError, bool) {
	var rej *BidRejectedError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
