package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Auction is the durable record. A zero ReservePrice means no reserve; a
// zero ExtensionWindow disables closing-time extension.
type Auction struct {
	ID                string
	StartingBid       decimal.Decimal
	ReservePrice      decimal.Decimal
	StartTime         time.Time
	EndTime           time.Time
	ExtensionWindow   time.Duration
	ExtensionDuration time.Duration
	Status            AuctionStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AuctionSpec is what a caller supplies to open an auction. A zero
// MinIncrement defers to the tiered bidding rules.
type AuctionSpec struct {
	StartTime         time.Time
	EndTime           time.Time
	StartingBid       decimal.Decimal
	ReservePrice      decimal.Decimal
	MinIncrement      decimal.Decimal
	ExtensionWindow   time.Duration
	ExtensionDuration time.Duration
}

// AuctionOutcome is the result of closing an auction. WinnerID is empty
// when nobody bid or the reserve was not met.
type AuctionOutcome struct {
	AuctionID  string
	WinnerID   string
	WinningBid decimal.Decimal
	ReserveMet bool
	EndedAt    time.Time
}

type AuctionStatus int

const (
	AuctionPending AuctionStatus = iota
	AuctionActive
	AuctionEnded
	AuctionCancelled
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionPending:
		return "pending"
	case AuctionActive:
		return "active"
	case AuctionEnded:
		return "ended"
	case AuctionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// BidUpdate is one observed bid event. Values are forwarded verbatim and never mutated.
type BidUpdate struct {
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// MaxIdempotencyKeyLen matches the retry_jobs.idempotency_key column.
const MaxIdempotencyKeyLen = 64

// BidRequest is an attempt to place a bid. The settlement backend owns the
// "strictly greater than the current highest bid" rule.
type BidRequest struct {
	AuctionID      string          `json:"auction_id"`
	BidderID       string          `json:"bidder_id"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key"`
}

func (r BidRequest) Validate() error {
	if strings.TrimSpace(r.AuctionID) == "" {
		return ErrInvalidAuctionID
	}
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if len(r.IdempotencyKey) > MaxIdempotencyKeyLen {
		return ErrInvalidKey
	}
	return nil
}

// BidResult is what PlaceBid hands back. Failures travel in Err.
type BidResult struct {
	Request   BidRequest
	Accepted  bool
	Err       error
	SettledAt time.Time
}

func BidSucceeded(req BidRequest, at time.Time) BidResult {
	return BidResult{Request: req, Accepted: true, SettledAt: at}
}

func BidFailed(req BidRequest, err error) BidResult {
	return BidResult{Request: req, Err: err}
}

// OrderBook is the settlement backend's view of one auction.
type OrderBook struct {
	AuctionID     string
	CurrentBid    decimal.Decimal
	WinnerID      string
	IncrementRule decimal.Decimal
	Status        AuctionStatus
	LastUpdated   time.Time
	EndTime       time.Time
}

type BidValidationRules struct {
	Rules map[string]float64 `json:"rules"`
}
