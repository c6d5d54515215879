package services

import (
	"context"
	"errors"
	"time"

	"rooster-auction/internal/domain"
	"rooster-auction/internal/metrics"
	"rooster-auction/pkg/logger"
)

// PaymentFallbackWorker runs single attempts of a payment fallback job and
// moves the job through its state machine. It never sleeps; the queue owns
// the wait between attempts.
type PaymentFallbackWorker struct {
	placer  domain.BidPlacer
	policy  domain.BackoffPolicy
	metrics *metrics.Metrics
	log     logger.Logger
	now     func() time.Time
}

func NewPaymentFallbackWorker(placer domain.BidPlacer, policy domain.BackoffPolicy,
	m *metrics.Metrics, log logger.Logger) *PaymentFallbackWorker {
	return &PaymentFallbackWorker{
		placer:  placer,
		policy:  policy,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

func (w *PaymentFallbackWorker) Policy() domain.BackoffPolicy {
	return w.policy
}

// Run performs one attempt and leaves the job in succeeded, retrying,
// failed, or (when ctx ended mid-attempt) scheduled.
func (w *PaymentFallbackWorker) Run(ctx context.Context, job *domain.RetryJob) {
	log := w.log.With("job_id", job.ID, "auction_id", job.AuctionID, "attempt", job.Attempt)

	if job.State.IsTerminal() {
		log.Warn("Payment fallback job already finished", "state", job.State)
		return
	}
	if err := job.Validate(); err != nil {
		log.Error("Payment fallback job has invalid input", "error", err)
		w.transition(job, domain.JobFailed, err.Error())
		return
	}

	w.transition(job, domain.JobRunning, job.LastError)

	result := w.placer.PlaceBid(ctx, job.Request())

	if errors.Is(ctx.Err(), context.Canceled) {
		// Inconclusive: not a success and not a failed attempt.
		log.Warn("Payment fallback attempt interrupted", "error", ctx.Err())
		job.RunAt = w.now()
		w.transition(job, domain.JobScheduled, job.LastError)
		return
	}

	if result.Accepted {
		log.Info("Payment fallback settled")
		w.transition(job, domain.JobSucceeded, "")
		return
	}

	if domain.IsInvalidInput(result.Err) {
		log.Error("Payment fallback rejected as invalid", "error", result.Err)
		w.transition(job, domain.JobFailed, result.Err.Error())
		return
	}
	if domain.IsPermanentRejection(result.Err) {
		log.Warn("Payment fallback rejected by the order book", "error", result.Err)
		w.transition(job, domain.JobFailed, result.Err.Error())
		return
	}

	job.Attempt++
	if w.policy.Exhausted(job.Attempt) {
		log.Error("Payment fallback retries exhausted", "attempts", job.Attempt, "error", result.Err)
		w.transition(job, domain.JobFailed, domain.ErrRetriesExhausted.Error()+": "+errString(result.Err))
		return
	}

	job.NextDelay = w.policy.Delay(job.Attempt - 1)
	job.RunAt = w.now().Add(job.NextDelay)
	w.metrics.RetryBackoff(job.NextDelay.Seconds())
	log.Warn("Payment fallback attempt failed, retrying", "next_delay", job.NextDelay, "error", result.Err)
	w.transition(job, domain.JobRetrying, errString(result.Err))
}

func (w *PaymentFallbackWorker) transition(job *domain.RetryJob, state domain.RetryJobState, lastError string) {
	job.State = state
	job.LastError = lastError
	job.UpdatedAt = w.now()
	w.metrics.RetryTransition(string(state))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
