package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"rooster-auction/internal/domain"
	"rooster-auction/pkg/logger"

	"github.com/gorilla/websocket"
)

var errNotConnected = errors.New("upstream bid stream not connected")

// UpstreamError is an error message sent by the upstream feed.
type UpstreamError struct {
	Message string
}

func (e *UpstreamError) Error() string {
	return "upstream feed: " + e.Message
}

// ClientBidStream reads bids from an upstream websocket feed speaking the
// subscribe / bid_placed protocol. An auction_ended message completes the
// stream.
type ClientBidStream struct {
	url    string
	dialer *websocket.Dialer
	log    logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	auctionID string
}

func NewClientBidStream(url string, log logger.Logger) *ClientBidStream {
	return &ClientBidStream{
		url:    url,
		dialer: websocket.DefaultDialer,
		log:    log,
	}
}

func NewClientBidStreamFactory(url string, log logger.Logger) domain.BidStreamFactory {
	return domain.BidStreamFactoryFunc(func() domain.BidStream {
		return NewClientBidStream(url, log)
	})
}

func (s *ClientBidStream) Connect(ctx context.Context, auctionID string) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ClientMessage{Action: ActionSubscribe, AuctionID: auctionID}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("subscribe %s: %w", auctionID, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.auctionID = auctionID
	s.mu.Unlock()
	return nil
}

func (s *ClientBidStream) Next(ctx context.Context) (domain.BidUpdate, error) {
	s.mu.Lock()
	conn, auctionID := s.conn, s.auctionID
	s.mu.Unlock()
	if conn == nil {
		return domain.BidUpdate{}, errNotConnected
	}

	// Unblock the read when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		var msg ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return domain.BidUpdate{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return domain.BidUpdate{}, io.EOF
			}
			return domain.BidUpdate{}, err
		}

		switch msg.Type {
		case TypeBidPlaced:
			var data BidPlacedData
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				s.log.Error("Failed to parse bid", "error", err)
				continue
			}
			if data.AuctionID != auctionID {
				continue
			}
			return data.Update(), nil
		case TypeAuctionEnded:
			var data AuctionEndedData
			if err := json.Unmarshal(msg.Data, &data); err == nil && data.AuctionID != "" && data.AuctionID != auctionID {
				continue
			}
			return domain.BidUpdate{}, io.EOF
		case TypeError:
			var data ErrorData
			_ = json.Unmarshal(msg.Data, &data)
			return domain.BidUpdate{}, &UpstreamError{Message: data.Message}
		default:
			s.log.Debug("Ignoring upstream message", "type", msg.Type)
		}
	}
}

// Disconnect unsubscribes and closes the socket. Safe to call repeatedly.
func (s *ClientBidStream) Disconnect() error {
	s.mu.Lock()
	conn, auctionID := s.conn, s.auctionID
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(time.Second)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(ClientMessage{Action: ActionUnsubscribe, AuctionID: auctionID})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}
