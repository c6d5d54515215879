package nats

import (
	"context"
	"fmt"
	"time"

	"rooster-auction/internal/domain"
	"rooster-auction/pkg/logger"

	natsgo "github.com/nats-io/nats.go"
)

const (
	archiverQueue  = "bid-archiver"
	handlerTimeout = 10 * time.Second
)

// BidEventConsumer delivers every bid on bid.events.* to a handler. Consumers
// share the archiver queue group, so each event is handled by one instance.
type BidEventConsumer struct {
	conn *natsgo.Conn
	log  logger.Logger
}

func NewBidEventConsumer(conn *natsgo.Conn, log logger.Logger) *BidEventConsumer {
	return &BidEventConsumer{conn: conn, log: log}
}

// Consume blocks until ctx is done.
func (c *BidEventConsumer) Consume(ctx context.Context, handler domain.BidEventHandler) error {
	sub, err := c.conn.QueueSubscribe(allBids, archiverQueue, func(msg *natsgo.Msg) {
		c.handleMessage(ctx, handler, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", allBids, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			c.log.Warn("Failed to unsubscribe", "subject", allBids, "error", err)
		}
	}()

	c.log.Info("Subscribed to bid events", "subject", allBids, "queue", archiverQueue)
	<-ctx.Done()
	return nil
}

func (c *BidEventConsumer) handleMessage(ctx context.Context, handler domain.BidEventHandler, msg *natsgo.Msg) {
	ev, err := decodeEvent(msg.Data)
	if err != nil {
		c.log.Error("Failed to decode bid event", "subject", msg.Subject, "error", err)
		return
	}
	if ev.Type != eventBidPlaced {
		return
	}

	hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	update := ev.update()
	if err := handler(hctx, &update); err != nil {
		c.log.Error("Failed to handle bid event", "event_id", ev.EventID, "auction_id", ev.AuctionID, "error", err)
	}
}
