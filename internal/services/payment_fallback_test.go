package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"rooster-auction/internal/domain"
	"rooster-auction/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPolicy = domain.BackoffPolicy{
	BaseDelay:   10 * time.Second,
	Multiplier:  2,
	MaxDelay:    time.Minute,
	MaxAttempts: 3,
}

func newTestWorker(settlement *fakeSettlement, clock *fixedClock) *PaymentFallbackWorker {
	coordinator := NewAuctionCoordinator(&fakeStreamFactory{}, settlement, nil, logger.NewNop())
	w := NewPaymentFallbackWorker(coordinator, testPolicy, nil, logger.NewNop())
	w.now = clock.Now
	return w
}

func newClock() *fixedClock {
	return &fixedClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func scheduledJob(req domain.BidRequest, now time.Time) *domain.RetryJob {
	req.IdempotencyKey = "idem-1"
	return domain.NewRetryJob("job_1", req, now, now)
}

func TestWorkerSucceeds(t *testing.T) {
	clock := newClock()
	settlement := &fakeSettlement{}
	w := newTestWorker(settlement, clock)
	job := scheduledJob(bid("a1", 200), clock.Now())

	w.Run(context.Background(), job)

	assert.Equal(t, domain.JobSucceeded, job.State)
	assert.Equal(t, 0, job.Attempt)
	assert.Empty(t, job.LastError)
	require.Equal(t, 1, settlement.callCount())
	assert.Equal(t, "idem-1", settlement.calls[0].IdempotencyKey)
}

func TestWorkerInvalidInputFailsWithoutSettlement(t *testing.T) {
	tests := []struct {
		name string
		req  domain.BidRequest
		want error
	}{
		{name: "empty auction", req: bid("", 200), want: domain.ErrInvalidAuctionID},
		{name: "blank auction", req: bid("   ", 200), want: domain.ErrInvalidAuctionID},
		{name: "zero amount", req: bid("a1", 0), want: domain.ErrInvalidAmount},
		{name: "negative amount", req: bid("a1", -5), want: domain.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newClock()
			settlement := &fakeSettlement{}
			w := newTestWorker(settlement, clock)
			job := scheduledJob(tt.req, clock.Now())

			w.Run(context.Background(), job)

			assert.Equal(t, domain.JobFailed, job.State)
			assert.Equal(t, tt.want.Error(), job.LastError)
			assert.Equal(t, 0, settlement.callCount())
		})
	}
}

func TestWorkerSchedulesBackoffAfterFailure(t *testing.T) {
	clock := newClock()
	settlement := &fakeSettlement{errs: []error{errors.New("gateway timeout")}}
	w := newTestWorker(settlement, clock)
	job := scheduledJob(bid("a1", 200), clock.Now())

	w.Run(context.Background(), job)

	assert.Equal(t, domain.JobRetrying, job.State)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, 10*time.Second, job.NextDelay)
	assert.Equal(t, clock.Now().Add(10*time.Second), job.RunAt)
	assert.Contains(t, job.LastError, "gateway timeout")
}

func TestWorkerDelaysGrowThenExhaust(t *testing.T) {
	clock := newClock()
	down := errors.New("settlement unavailable")
	settlement := &fakeSettlement{errs: []error{down, down, down}}
	w := newTestWorker(settlement, clock)
	job := scheduledJob(bid("a1", 200), clock.Now())

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		w.Run(context.Background(), job)
		if job.State == domain.JobRetrying {
			delays = append(delays, job.NextDelay)
			job.Requeue()
			clock.Advance(job.NextDelay)
		}
	}

	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second}, delays)
	assert.Equal(t, domain.JobFailed, job.State)
	assert.Equal(t, 3, job.Attempt)
	assert.Contains(t, job.LastError, domain.ErrRetriesExhausted.Error())
	assert.Equal(t, 3, settlement.callCount())
}

func TestWorkerRejectionIsRetried(t *testing.T) {
	clock := newClock()
	rejection := &domain.SettlementError{AuctionID: "a1", Reason: "payment_declined", Err: errors.New("card issuer unavailable")}
	w := newTestWorker(&fakeSettlement{errs: []error{rejection}}, clock)
	job := scheduledJob(bid("a1", 200), clock.Now())

	w.Run(context.Background(), job)

	assert.Equal(t, domain.JobRetrying, job.State)
	assert.Equal(t, 1, job.Attempt)
}

func TestWorkerOrderBookRejectionFails(t *testing.T) {
	tests := []struct {
		reason string
		err    error
	}{
		{reason: "bid_too_low", err: domain.ErrBidTooLow},
		{reason: "auction_not_active", err: domain.ErrAuctionNotActive},
		{reason: "auction_not_found", err: domain.ErrAuctionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			clock := newClock()
			rejection := &domain.SettlementError{AuctionID: "a1", Reason: tt.reason, Err: tt.err}
			settlement := &fakeSettlement{errs: []error{rejection}}
			w := newTestWorker(settlement, clock)
			job := scheduledJob(bid("a1", 200), clock.Now())

			w.Run(context.Background(), job)

			assert.Equal(t, domain.JobFailed, job.State)
			assert.Equal(t, 0, job.Attempt)
			assert.Contains(t, job.LastError, tt.reason)
			assert.Equal(t, 1, settlement.callCount())
		})
	}
}

func TestWorkerCancellationLeavesJobScheduled(t *testing.T) {
	clock := newClock()
	w := newTestWorker(&fakeSettlement{blockOn: true}, clock)
	job := scheduledJob(bid("a1", 200), clock.Now())
	job.Attempt = 1

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx, job)

	assert.Equal(t, domain.JobScheduled, job.State)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, clock.Now(), job.RunAt)
}

func TestWorkerDeadlineCountsAsAttempt(t *testing.T) {
	clock := newClock()
	w := newTestWorker(&fakeSettlement{blockOn: true}, clock)
	job := scheduledJob(bid("a1", 200), clock.Now())

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	w.Run(ctx, job)

	assert.Equal(t, domain.JobRetrying, job.State)
	assert.Equal(t, 1, job.Attempt)
	assert.Contains(t, job.LastError, context.DeadlineExceeded.Error())
}

func TestWorkerIgnoresTerminalJobs(t *testing.T) {
	clock := newClock()
	settlement := &fakeSettlement{}
	w := newTestWorker(settlement, clock)
	job := scheduledJob(bid("a1", 200), clock.Now())
	job.State = domain.JobSucceeded

	w.Run(context.Background(), job)

	assert.Equal(t, domain.JobSucceeded, job.State)
	assert.Equal(t, 0, settlement.callCount())
}

func TestWorkerUnlimitedAttempts(t *testing.T) {
	clock := newClock()
	settlement := &fakeSettlement{}
	for i := 0; i < 20; i++ {
		settlement.errs = append(settlement.errs, errors.New("still down"))
	}
	coordinator := NewAuctionCoordinator(&fakeStreamFactory{}, settlement, nil, logger.NewNop())
	policy := testPolicy
	policy.MaxAttempts = 0
	w := NewPaymentFallbackWorker(coordinator, policy, nil, logger.NewNop())
	w.now = clock.Now

	job := scheduledJob(domain.BidRequest{AuctionID: "a1", Amount: decimal.NewFromInt(200)}, clock.Now())
	for i := 0; i < 20; i++ {
		w.Run(context.Background(), job)
		require.Equal(t, domain.JobRetrying, job.State)
		assert.LessOrEqual(t, job.NextDelay, policy.MaxDelay)
		job.Requeue()
	}
	assert.Equal(t, 20, job.Attempt)
	assert.Equal(t, time.Minute, job.NextDelay)
}
