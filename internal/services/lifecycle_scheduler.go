package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rooster-auction/internal/domain"
	"rooster-auction/pkg/logger"

	"github.com/robfig/cron/v3"
)

// AuctionLifecycle is the part of AuctionManager the lifecycle scheduler drives.
type AuctionLifecycle interface {
	StartAuction(ctx context.Context, auctionID string) error
	EndAuction(ctx context.Context, auctionID string) (*domain.AuctionOutcome, error)
	GetOrderBook(ctx context.Context, auctionID string) (*domain.OrderBook, error)
}

// CronAuctionScheduler starts pending auctions once their start time passes
// and ends active auctions once their end time passes. The order book
// already refuses late bids, so the poll only has to bring the status in
// line. Only the leader polls.
type CronAuctionScheduler struct {
	cron       *cron.Cron
	schedule   domain.AuctionSchedule
	lifecycle  AuctionLifecycle
	leader     domain.LeaderElection
	instanceID string
	interval   time.Duration
	log        logger.Logger
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewCronAuctionScheduler(schedule domain.AuctionSchedule, lifecycle AuctionLifecycle,
	leader domain.LeaderElection, instanceID string, interval time.Duration, log logger.Logger) *CronAuctionScheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &CronAuctionScheduler{
		cron:       cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		schedule:   schedule,
		lifecycle:  lifecycle,
		leader:     leader,
		instanceID: instanceID,
		interval:   interval,
		log:        log,
		now:        time.Now,
	}
}

func (s *CronAuctionScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting auction scheduler", "poll_interval", s.interval)

	runCtx, cancel := context.WithCancel(ctx)
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.ProcessDueAuctions(runCtx)
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

func (s *CronAuctionScheduler) Stop() error {
	s.log.Info("Stopping auction scheduler")

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	return nil
}

// ProcessDueAuctions runs one poll. Starts go first so an auction whose
// whole window passed while pending still ends in the same poll.
func (s *CronAuctionScheduler) ProcessDueAuctions(ctx context.Context) (started, ended int) {
	if s.leader != nil {
		isLeader, err := s.leader.IsLeader(ctx, s.instanceID)
		if err != nil {
			s.log.Error("Failed to check leadership", "error", err)
			return 0, 0
		}
		if !isLeader {
			return 0, 0
		}
	}

	now := s.now()

	toStart, err := s.schedule.GetAuctionsToStart(ctx, now)
	if err != nil {
		s.log.Error("Failed to get auctions to start", "error", err)
	}
	for _, auction := range toStart {
		if err := s.lifecycle.StartAuction(ctx, auction.ID); err != nil {
			s.log.Error("Failed to start auction", "auction_id", auction.ID, "error", err)
			continue
		}
		started++
	}

	toEnd, err := s.schedule.GetAuctionsToEnd(ctx, now)
	if err != nil {
		s.log.Error("Failed to get auctions to end", "error", err)
		return started, ended
	}
	for _, auction := range toEnd {
		// The order book holds the authoritative end when an extension's
		// write to the record was lost.
		if book, err := s.lifecycle.GetOrderBook(ctx, auction.ID); err == nil && book.EndTime.After(now) {
			s.log.Warn("Auction end moved, not ending yet", "auction_id", auction.ID, "end_time", book.EndTime)
			continue
		}

		outcome, err := s.lifecycle.EndAuction(ctx, auction.ID)
		if err != nil {
			s.log.Error("Failed to end auction", "auction_id", auction.ID, "error", err)
			continue
		}
		s.log.Info("Auction closed on schedule", "auction_id", auction.ID,
			"winner_id", outcome.WinnerID, "reserve_met", outcome.ReserveMet)
		ended++
	}
	return started, ended
}
