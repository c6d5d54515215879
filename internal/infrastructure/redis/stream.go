package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"rooster-auction/internal/domain"
	"rooster-auction/pkg/logger"

	"github.com/go-redis/redis/v8"
)

const (
	eventBidPlaced    = "bid_placed"
	eventAuctionEnded = "auction_ended"
)

var errStreamNotConnected = errors.New("bid stream not connected")

// streamEvent is the JSON payload on an auction's event channel.
type streamEvent struct {
	Type      string            `json:"type"`
	AuctionID string            `json:"auction_id,omitempty"`
	Bid       *domain.BidUpdate `json:"bid,omitempty"`
}

// RedisBidStream reads one auction's bid events from Redis pub/sub.
type RedisBidStream struct {
	client *redis.Client
	log    logger.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	ch     <-chan *redis.Message
}

func NewRedisBidStream(client *redis.Client, log logger.Logger) *RedisBidStream {
	return &RedisBidStream{
		client: client,
		log:    log,
	}
}

// NewRedisBidStreamFactory hands out a fresh stream per subscriber.
func NewRedisBidStreamFactory(client *redis.Client, log logger.Logger) domain.BidStreamFactory {
	return domain.BidStreamFactoryFunc(func() domain.BidStream {
		return NewRedisBidStream(client, log)
	})
}

// Connect subscribes and waits for Redis to confirm the subscription, so no
// event published after Connect returns is missed.
func (s *RedisBidStream) Connect(ctx context.Context, auctionID string) error {
	pubsub := s.client.Subscribe(ctx, EventChannel(auctionID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", EventChannel(auctionID), err)
	}

	s.mu.Lock()
	s.pubsub = pubsub
	s.ch = pubsub.Channel()
	s.mu.Unlock()

	s.log.Debug("Subscribed to auction events", "auction_id", auctionID)
	return nil
}

func (s *RedisBidStream) Next(ctx context.Context) (domain.BidUpdate, error) {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return domain.BidUpdate{}, errStreamNotConnected
	}

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return domain.BidUpdate{}, errStreamNotConnected
			}

			var ev streamEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.log.Error("Failed to parse event", "payload", msg.Payload, "error", err)
				continue
			}

			switch ev.Type {
			case eventBidPlaced:
				if ev.Bid == nil {
					s.log.Error("Bid event without bid", "payload", msg.Payload)
					continue
				}
				return *ev.Bid, nil
			case eventAuctionEnded:
				return domain.BidUpdate{}, io.EOF
			default:
				s.log.Debug("Ignoring auction event", "type", ev.Type)
			}

		case <-ctx.Done():
			return domain.BidUpdate{}, ctx.Err()
		}
	}
}

// Disconnect is safe to call repeatedly and before Connect.
func (s *RedisBidStream) Disconnect() error {
	s.mu.Lock()
	pubsub := s.pubsub
	s.pubsub = nil
	s.ch = nil
	s.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	return pubsub.Close()
}
