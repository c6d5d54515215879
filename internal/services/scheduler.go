package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rooster-auction/internal/domain"
	"rooster-auction/pkg/logger"
	"rooster-auction/pkg/utils"

	"github.com/robfig/cron/v3"
)

type RetrySchedulerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	LeaseTimeout time.Duration
	InitialDelay time.Duration
}

// CronRetryScheduler is the durable payment fallback queue. Jobs live in the
// repository; a cron poll picks up due jobs on the leader instance and leases
// them while an attempt runs, so a crashed attempt is picked up again once
// its lease expires.
type CronRetryScheduler struct {
	cron       *cron.Cron
	repo       domain.RetryJobRepository
	worker     *PaymentFallbackWorker
	leader     domain.LeaderElection
	instanceID string
	cfg        RetrySchedulerConfig
	log        logger.Logger
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewCronRetryScheduler(repo domain.RetryJobRepository, worker *PaymentFallbackWorker,
	leader domain.LeaderElection, instanceID string, cfg RetrySchedulerConfig, log logger.Logger) *CronRetryScheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &CronRetryScheduler{
		cron:       cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		repo:       repo,
		worker:     worker,
		leader:     leader,
		instanceID: instanceID,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

func (s *CronRetryScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting payment fallback scheduler", "poll_interval", s.cfg.PollInterval)

	runCtx, cancel := context.WithCancel(ctx)
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.PollInterval), func() {
		s.ProcessDueJobs(runCtx)
	})
	if err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.cron.Start()
	return nil
}

// Stop cancels in-flight attempts and waits for the running poll to return.
// Interrupted jobs are left scheduled.
func (s *CronRetryScheduler) Stop() error {
	s.log.Info("Stopping payment fallback scheduler")

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	return nil
}

// Enqueue persists a scheduled job carrying the bid's settlement inputs.
func (s *CronRetryScheduler) Enqueue(ctx context.Context, req domain.BidRequest) (*domain.RetryJob, error) {
	now := s.now()
	job := domain.NewRetryJob(utils.GenerateID("job"), req, now.Add(s.cfg.InitialDelay), now)

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue payment fallback: %w", err)
	}
	return job, nil
}

func (s *CronRetryScheduler) GetJob(ctx context.Context, jobID string) (*domain.RetryJob, error) {
	return s.repo.GetJob(ctx, jobID)
}

// ProcessDueJobs runs one poll and returns the number of attempts made.
func (s *CronRetryScheduler) ProcessDueJobs(ctx context.Context) int {
	if s.leader != nil {
		isLeader, err := s.leader.IsLeader(ctx, s.instanceID)
		if err != nil {
			s.log.Error("Failed to check leadership", "error", err)
			return 0
		}
		if !isLeader {
			return 0
		}
	}

	jobs, err := s.repo.GetDueJobs(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		s.log.Error("Failed to get due retry jobs", "error", err)
		return 0
	}

	processed := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		if s.runJob(ctx, job) {
			processed++
		}
	}
	return processed
}

func (s *CronRetryScheduler) runJob(ctx context.Context, job *domain.RetryJob) bool {
	s.log.Info("Processing retry job", "job_id", job.ID, "auction_id", job.AuctionID, "attempt", job.Attempt)

	// Lease the job before the attempt.
	now := s.now()
	job.State = domain.JobRunning
	job.RunAt = now.Add(s.cfg.LeaseTimeout)
	job.UpdatedAt = now
	if err := s.repo.UpdateJob(ctx, job); err != nil {
		s.log.Error("Failed to lease retry job", "job_id", job.ID, "error", err)
		return false
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.LeaseTimeout)
	s.worker.Run(attemptCtx, job)
	cancel()

	job.Requeue()
	if err := s.repo.UpdateJob(context.WithoutCancel(ctx), job); err != nil {
		s.log.Error("Failed to persist retry job", "job_id", job.ID, "state", job.State, "error", err)
	}
	return true
}
