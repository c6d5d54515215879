package nats

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"rooster-auction/internal/domain"
	"rooster-auction/pkg/logger"

	natsgo "github.com/nats-io/nats.go"
)

var errStreamNotConnected = errors.New("nats bid stream not connected")

// BidStream reads one auction's bids from bid.events.{id}. An auction_ended
// event completes it.
type BidStream struct {
	conn *natsgo.Conn
	log  logger.Logger

	mu  sync.Mutex
	sub *natsgo.Subscription
}

func NewBidStream(conn *natsgo.Conn, log logger.Logger) *BidStream {
	return &BidStream{conn: conn, log: log}
}

func NewBidStreamFactory(conn *natsgo.Conn, log logger.Logger) domain.BidStreamFactory {
	return domain.BidStreamFactoryFunc(func() domain.BidStream {
		return NewBidStream(conn, log)
	})
}

func (s *BidStream) Connect(ctx context.Context, auctionID string) error {
	subject, err := Subject(auctionID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sub, err := s.conn.SubscribeSync(subject)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return nil
}

func (s *BidStream) Next(ctx context.Context) (domain.BidUpdate, error) {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub == nil {
		return domain.BidUpdate{}, errStreamNotConnected
	}

	for {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.BidUpdate{}, ctxErr
			}
			return domain.BidUpdate{}, err
		}

		ev, err := decodeEvent(msg.Data)
		if err != nil {
			s.log.Warn("Skipping malformed bid event", "subject", msg.Subject, "error", err)
			continue
		}

		switch ev.Type {
		case eventBidPlaced:
			return ev.update(), nil
		case eventAuctionEnded:
			return domain.BidUpdate{}, io.EOF
		default:
			s.log.Debug("Skipping unknown bid event", "type", ev.Type)
		}
	}
}

// Disconnect is safe to call repeatedly.
func (s *BidStream) Disconnect() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub == nil {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, natsgo.ErrConnectionClosed) && !errors.Is(err, natsgo.ErrBadSubscription) {
		return err
	}
	return nil
}
