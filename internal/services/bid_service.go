package services

import (
	"context"
	"errors"
	"time"

	"rooster-auction/internal/domain"
	"rooster-auction/pkg/logger"
	"rooster-auction/pkg/utils"
)

// BidOutcome is the interactive answer to a bid. RetryJob is set when a
// failed settlement was handed to the fallback queue. ExtendedUntil is set
// when the accepted bid moved the auction's closing time.
type BidOutcome struct {
	Result        domain.BidResult
	RetryJob      *domain.RetryJob
	ExtendedUntil time.Time
}

// BidService is the interactive bidding path: settle once, and on a
// settlement failure enqueue a payment fallback job.
type BidService struct {
	placer     domain.BidPlacer
	fallback   domain.RetryJobQueue
	publishers []domain.BidEventPublisher
	extender   domain.AuctionExtender
	log        logger.Logger
}

func NewBidService(
	placer domain.BidPlacer,
	fallback domain.RetryJobQueue,
	log logger.Logger,
	publishers ...domain.BidEventPublisher,
) *BidService {
	return &BidService{
		placer:     placer,
		fallback:   fallback,
		publishers: publishers,
		log:        log,
	}
}

// ExtendOnAccept runs the closing-time extension check after every accepted bid.
func (s *BidService) ExtendOnAccept(extender domain.AuctionExtender) {
	s.extender = extender
}

func (s *BidService) PlaceBid(ctx context.Context, req domain.BidRequest) BidOutcome {
	// The key is fixed here so a fallback job replays the same settlement.
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = utils.NewIdempotencyKey()
	}

	result := s.placer.PlaceBid(ctx, req)
	if result.Accepted {
		s.publish(ctx, result)
		return BidOutcome{Result: result, ExtendedUntil: s.extend(ctx, req.AuctionID)}
	}

	if !shouldFallback(result.Err) || s.fallback == nil {
		return BidOutcome{Result: result}
	}

	job, err := s.fallback.Enqueue(context.WithoutCancel(ctx), req)
	if err != nil {
		s.log.Error("Failed to enqueue payment fallback", "auction_id", req.AuctionID, "error", err)
		return BidOutcome{Result: result}
	}

	s.log.Info("Payment fallback scheduled", "job_id", job.ID, "auction_id", req.AuctionID, "run_at", job.RunAt)
	return BidOutcome{Result: result, RetryJob: job}
}

func shouldFallback(err error) bool {
	if err == nil || domain.IsInvalidInput(err) || domain.IsPermanentRejection(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return domain.IsSettlementError(err) || errors.Is(err, context.DeadlineExceeded)
}

func (s *BidService) extend(ctx context.Context, auctionID string) time.Time {
	if s.extender == nil {
		return time.Time{}
	}
	newEnd, extended, err := s.extender.CheckAndExtendAuction(context.WithoutCancel(ctx), auctionID)
	if err != nil {
		s.log.Error("Failed to check auction extension", "auction_id", auctionID, "error", err)
		return time.Time{}
	}
	if !extended {
		return time.Time{}
	}
	return newEnd
}

func (s *BidService) publish(ctx context.Context, result domain.BidResult) {
	if len(s.publishers) == 0 {
		return
	}

	update := &domain.BidUpdate{
		AuctionID: result.Request.AuctionID,
		BidderID:  result.Request.BidderID,
		Amount:    result.Request.Amount,
		Timestamp: result.SettledAt,
	}
	for _, p := range s.publishers {
		if err := p.PublishBid(ctx, update); err != nil {
			s.log.Error("Failed to publish bid event", "auction_id", update.AuctionID, "error", err)
		}
	}
}
