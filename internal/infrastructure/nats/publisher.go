package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rooster-auction/internal/domain"
	"rooster-auction/pkg/logger"

	natsgo "github.com/nats-io/nats.go"
)

// BidEventPublisher fans accepted bids, extensions and auction ends out on
// bid.events.{id}.
type BidEventPublisher struct {
	conn *natsgo.Conn
	log  logger.Logger
	now  func() time.Time
}

func NewBidEventPublisher(conn *natsgo.Conn, log logger.Logger) *BidEventPublisher {
	return &BidEventPublisher{conn: conn, log: log, now: time.Now}
}

func (p *BidEventPublisher) PublishBid(ctx context.Context, update *domain.BidUpdate) error {
	return p.publish(ctx, newBidPlaced(update))
}

func (p *BidEventPublisher) PublishAuctionEnded(ctx context.Context, auctionID string) error {
	return p.publish(ctx, newAuctionEnded(auctionID, p.now()))
}

func (p *BidEventPublisher) PublishAuctionExtended(ctx context.Context, auctionID string, endTime time.Time) error {
	return p.publish(ctx, newAuctionExtended(auctionID, endTime, p.now()))
}

func (p *BidEventPublisher) publish(ctx context.Context, ev bidEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, err := Subject(ev.AuctionID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.log.Debug("Published bid event", "subject", subject, "type", ev.Type, "event_id", ev.EventID)
	return nil
}
