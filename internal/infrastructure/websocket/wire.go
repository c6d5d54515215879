package websocket

import (
	"encoding/json"
	"time"

	"rooster-auction/internal/domain"

	"github.com/shopspring/decimal"
)

// Client to server actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPlaceBid    = "place_bid"
	ActionPing        = "ping"
)

// Server to client message types.
const (
	TypeBidPlaced       = "bid_placed"
	TypeBidResult       = "bid_result"
	TypeAuctionEnded    = "auction_ended"
	TypeAuctionExtended = "auction_extended"
	TypeError           = "error"
	TypePong            = "pong"
)

type ClientMessage struct {
	Action         string          `json:"action"`
	AuctionID      string          `json:"auctionId,omitempty"`
	BidAmount      decimal.Decimal `json:"bidAmount,omitempty"`
	BidderID       string          `json:"bidderId,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

type ServerMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// BidPlacedData carries the timestamp in unix milliseconds.
type BidPlacedData struct {
	AuctionID string          `json:"auctionId"`
	BidderID  string          `json:"bidderId"`
	BidAmount decimal.Decimal `json:"bidAmount"`
	Timestamp int64           `json:"timestamp"`
}

type BidResultData struct {
	AuctionID  string `json:"auctionId"`
	Accepted   bool   `json:"accepted"`
	Error      string `json:"error,omitempty"`
	RetryJobID string `json:"retryJobId,omitempty"`
}

type AuctionEndedData struct {
	AuctionID string `json:"auctionId"`
	EndTime   int64  `json:"endTime"`
}

// AuctionExtendedData carries the new closing time in unix milliseconds.
type AuctionExtendedData struct {
	AuctionID string `json:"auctionId"`
	EndTime   int64  `json:"endTime"`
}

type ErrorData struct {
	Message string `json:"message"`
}

func NewServerMessage(msgType string, data any) (ServerMessage, error) {
	if data == nil {
		return ServerMessage{Type: msgType}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return ServerMessage{}, err
	}
	return ServerMessage{Type: msgType, Data: raw}, nil
}

func BidPlacedFromUpdate(u domain.BidUpdate) BidPlacedData {
	return BidPlacedData{
		AuctionID: u.AuctionID,
		BidderID:  u.BidderID,
		BidAmount: u.Amount,
		Timestamp: u.Timestamp.UnixMilli(),
	}
}

func (d BidPlacedData) Update() domain.BidUpdate {
	return domain.BidUpdate{
		AuctionID: d.AuctionID,
		BidderID:  d.BidderID,
		Amount:    d.BidAmount,
		Timestamp: time.UnixMilli(d.Timestamp).UTC(),
	}
}
