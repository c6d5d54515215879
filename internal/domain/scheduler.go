package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

type RetryJobState string

const (
	JobScheduled RetryJobState = "scheduled"
	JobRunning   RetryJobState = "running"
	JobSucceeded RetryJobState = "succeeded"
	JobRetrying  RetryJobState = "retrying"
	JobFailed    RetryJobState = "failed"
)

func (s RetryJobState) IsTerminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// RetryJob is a pending payment-fallback settlement. Attempt counts failed attempts so far.
type RetryJob struct {
	ID             string
	AuctionID      string
	BidderID       string
	Amount         decimal.Decimal
	IdempotencyKey string
	Attempt        int
	NextDelay      time.Duration
	RunAt          time.Time
	State          RetryJobState
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func NewRetryJob(id string, req BidRequest, runAt, now time.Time) *RetryJob {
	return &RetryJob{
		ID:             id,
		AuctionID:      req.AuctionID,
		BidderID:       req.BidderID,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
		RunAt:          runAt,
		State:          JobScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Request rebuilds the settlement arguments. Every attempt submits the same request.
func (j *RetryJob) Request() BidRequest {
	return BidRequest{
		AuctionID:      j.AuctionID,
		BidderID:       j.BidderID,
		Amount:         j.Amount,
		IdempotencyKey: j.IdempotencyKey,
	}
}

func (j *RetryJob) Validate() error {
	return j.Request().Validate()
}

// Requeue moves a retrying job back to scheduled for its next attempt.
func (j *RetryJob) Requeue() {
	if j.State == JobRetrying {
		j.State = JobScheduled
	}
}

// BackoffPolicy is the exponential retry schedule. MaxAttempts 0 means unlimited.
type BackoffPolicy struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:   10 * time.Second,
		Multiplier:  2,
		MaxDelay:    10 * time.Minute,
		MaxAttempts: 10,
	}
}

// Delay returns the wait after 0-indexed attempt k: BaseDelay * Multiplier^k, capped at MaxDelay.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (p BackoffPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
