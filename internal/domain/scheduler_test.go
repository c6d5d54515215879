package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffPolicyDelayDoublesFromBase(t *testing.T) {
	p := BackoffPolicy{BaseDelay: 10 * time.Second, Multiplier: 2, MaxDelay: time.Hour}

	want := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second, 160 * time.Second}
	for k, d := range want {
		assert.Equal(t, d, p.Delay(k), "attempt %d", k)
	}
}

func TestBackoffPolicyDelayIsCapped(t *testing.T) {
	p := BackoffPolicy{BaseDelay: 10 * time.Second, Multiplier: 2, MaxDelay: 60 * time.Second}

	assert.Equal(t, 40*time.Second, p.Delay(2))
	assert.Equal(t, 60*time.Second, p.Delay(3))
	assert.Equal(t, 60*time.Second, p.Delay(50))
	assert.Equal(t, 60*time.Second, p.Delay(5000))
}

func TestBackoffPolicyDelayEdgeCases(t *testing.T) {
	p := BackoffPolicy{BaseDelay: time.Second, Multiplier: 0.5}

	assert.Equal(t, time.Second, p.Delay(-3), "negative attempt clamps to zero")
	assert.Equal(t, time.Second, p.Delay(4), "multiplier below one is treated as constant backoff")
}

func TestBackoffPolicyExhausted(t *testing.T) {
	tests := []struct {
		name     string
		max      int
		attempts int
		want     bool
	}{
		{"unlimited", 0, 1000, false},
		{"below ceiling", 3, 2, false},
		{"at ceiling", 3, 3, true},
		{"past ceiling", 3, 4, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := BackoffPolicy{BaseDelay: time.Second, Multiplier: 2, MaxAttempts: tt.max}
			assert.Equal(t, tt.want, p.Exhausted(tt.attempts))
		})
	}
}

func TestDefaultBackoffPolicy(t *testing.T) {
	p := DefaultBackoffPolicy()
	assert.Equal(t, 10*time.Second, p.Delay(0))
	assert.Equal(t, 20*time.Second, p.Delay(1))
	assert.Equal(t, 10*time.Minute, p.Delay(20))
}

func TestRetryJobRoundTripsRequest(t *testing.T) {
	now := time.Now()
	req := BidRequest{AuctionID: "a1", BidderID: "u1", Amount: decimal.NewFromFloat(200.0), IdempotencyKey: "k1"}

	job := NewRetryJob("job_1", req, now, now)

	require.Equal(t, JobScheduled, job.State)
	assert.Equal(t, 0, job.Attempt)
	assert.Equal(t, req, job.Request())
	assert.NoError(t, job.Validate())
}

func TestRetryJobValidateRejectsMissingAuction(t *testing.T) {
	job := &RetryJob{ID: "job_1", Amount: decimal.NewFromInt(5)}
	assert.ErrorIs(t, job.Validate(), ErrInvalidAuctionID)
}

func TestRetryJobRequeue(t *testing.T) {
	job := &RetryJob{State: JobRetrying}
	job.Requeue()
	assert.Equal(t, JobScheduled, job.State)

	job.State = JobSucceeded
	job.Requeue()
	assert.Equal(t, JobSucceeded, job.State)
}

func TestRetryJobStateTerminal(t *testing.T) {
	assert.True(t, JobSucceeded.IsTerminal())
	assert.True(t, JobFailed.IsTerminal())
	assert.False(t, JobScheduled.IsTerminal())
	assert.False(t, JobRunning.IsTerminal())
	assert.False(t, JobRetrying.IsTerminal())
}
