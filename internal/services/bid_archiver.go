package services

import (
	"context"

	"rooster-auction/internal/domain"
	"rooster-auction/pkg/logger"
)

// BidArchiver copies accepted bids from the event bus into the ledger.
type BidArchiver struct {
	consumer domain.BidEventConsumer
	ledger   domain.BidLedger
	log      logger.Logger
}

func NewBidArchiver(consumer domain.BidEventConsumer, ledger domain.BidLedger, log logger.Logger) *BidArchiver {
	return &BidArchiver{
		consumer: consumer,
		ledger:   ledger,
		log:      log,
	}
}

func (a *BidArchiver) Start(ctx context.Context) error {
	a.log.Info("Starting bid archiver")
	return a.consumer.Consume(ctx, a.handle)
}

func (a *BidArchiver) handle(ctx context.Context, update *domain.BidUpdate) error {
	a.log.Info("Archiving bid", "auction_id", update.AuctionID, "bidder_id", update.BidderID, "amount", update.Amount.String())
	return a.ledger.RecordBid(ctx, update)
}
