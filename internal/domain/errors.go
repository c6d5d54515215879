package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAuctionID = errors.New("invalid auction id")
	ErrInvalidAmount    = errors.New("bid amount must be positive")
	ErrInvalidKey       = errors.New("idempotency key too long")
	ErrAuctionNotFound  = errors.New("auction not found")
	ErrAuctionNotActive = errors.New("auction not active")
	ErrBidTooLow        = errors.New("bid does not exceed current highest bid")
	ErrRetriesExhausted = errors.New("settlement retries exhausted")
	ErrJobNotFound      = errors.New("retry job not found")
)

// ConnectionError means the bid stream could not be opened or dropped unexpectedly.
type ConnectionError struct {
	AuctionID string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("bid stream for auction %s: %v", e.AuctionID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SettlementError is a rejected or failed settlement call.
type SettlementError struct {
	AuctionID string
	Reason    string
	Err       error
}

func (e *SettlementError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("settlement for auction %s: %v", e.AuctionID, e.Err)
	}
	return fmt.Sprintf("settlement for auction %s rejected (%s): %v", e.AuctionID, e.Reason, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }

// IsInvalidInput reports programmer/input errors. These are never retried.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidAuctionID) || errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidKey)
}

// IsPermanentRejection reports settlement answers that a replay of the same
// request cannot change.
func IsPermanentRejection(err error) bool {
	return errors.Is(err, ErrAuctionNotFound) || errors.Is(err, ErrAuctionNotActive) ||
		errors.Is(err, ErrBidTooLow)
}

func IsSettlementError(err error) bool {
	var se *SettlementError
	return errors.As(err, &se)
}
