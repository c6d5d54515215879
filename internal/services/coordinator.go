package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"rooster-auction/internal/domain"
	"rooster-auction/internal/metrics"
	"rooster-auction/pkg/logger"
	"rooster-auction/pkg/utils"
)

// AuctionCoordinator is the single entry point for observing live bids and
// submitting new ones.
type AuctionCoordinator struct {
	streams    domain.BidStreamFactory
	settlement domain.Settlement
	metrics    *metrics.Metrics
	log        logger.Logger
	now        func() time.Time
}

func NewAuctionCoordinator(
	streams domain.BidStreamFactory,
	settlement domain.Settlement,
	m *metrics.Metrics,
	log logger.Logger,
) *AuctionCoordinator {
	return &AuctionCoordinator{
		streams:    streams,
		settlement: settlement,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// ObserveBids returns a lazy sequence of bid updates for one auction.
//
// Every range over the sequence opens its own stream, and that stream is
// disconnected exactly once before the range statement returns, however the
// loop ends. A non-nil error is always the last element.
func (c *AuctionCoordinator) ObserveBids(ctx context.Context, auctionID string) iter.Seq2[domain.BidUpdate, error] {
	return func(yield func(domain.BidUpdate, error) bool) {
		stream := c.streams.NewBidStream()
		defer c.teardown(stream, auctionID)

		if strings.TrimSpace(auctionID) == "" {
			yield(domain.BidUpdate{}, domain.ErrInvalidAuctionID)
			return
		}

		if err := stream.Connect(ctx, auctionID); err != nil {
			c.log.Warn("Failed to open bid stream", "auction_id", auctionID, "error", err)
			yield(domain.BidUpdate{}, &domain.ConnectionError{AuctionID: auctionID, Err: err})
			return
		}
		c.metrics.StreamOpened()
		defer c.metrics.StreamClosed()
		c.log.Debug("Bid stream opened", "auction_id", auctionID)

		for {
			update, err := stream.Next(ctx)
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if ctxErr := ctx.Err(); ctxErr != nil {
					yield(domain.BidUpdate{}, ctxErr)
					return
				}
				yield(domain.BidUpdate{}, &domain.ConnectionError{AuctionID: auctionID, Err: err})
				return
			}

			c.metrics.StreamUpdate()
			if !yield(update, nil) {
				return
			}
		}
	}
}

func (c *AuctionCoordinator) teardown(stream domain.BidStream, auctionID string) {
	if err := stream.Disconnect(); err != nil {
		c.log.Warn("Failed to disconnect bid stream", "auction_id", auctionID, "error", err)
		return
	}
	c.log.Debug("Bid stream closed", "auction_id", auctionID)
}

// PlaceBid submits one settlement attempt. Every failure comes back inside the result.
func (c *AuctionCoordinator) PlaceBid(ctx context.Context, req domain.BidRequest) (result domain.BidResult) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Settlement panicked", "auction_id", req.AuctionID, "panic", r)
			result = domain.BidFailed(req, &domain.SettlementError{
				AuctionID: req.AuctionID,
				Err:       fmt.Errorf("settlement panic: %v", r),
			})
		}
		c.metrics.BidPlaced(result.Accepted)
	}()

	if err := req.Validate(); err != nil {
		return domain.BidFailed(req, err)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = utils.NewIdempotencyKey()
	}

	c.log.Info("Placing bid", "auction_id", req.AuctionID, "bidder_id", req.BidderID, "amount", req.Amount.String())

	if err := c.settlement.SubmitBid(ctx, req); err != nil {
		c.log.Warn("Bid settlement failed", "auction_id", req.AuctionID, "bidder_id", req.BidderID, "error", err)
		return domain.BidFailed(req, classifySettlementError(req.AuctionID, err))
	}

	return domain.BidSucceeded(req, c.now())
}

// classifySettlementError leaves invalid input and cancellation alone and
// wraps everything else as a settlement error.
func classifySettlementError(auctionID string, err error) error {
	switch {
	case domain.IsInvalidInput(err), domain.IsSettlementError(err):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return &domain.SettlementError{AuctionID: auctionID, Err: err}
	}
}
