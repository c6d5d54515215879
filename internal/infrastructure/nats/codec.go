package nats

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"rooster-auction/internal/domain"
	"rooster-auction/pkg/utils"

	"github.com/shopspring/decimal"
)

const (
	subjectPrefix = "bid.events"
	allBids       = subjectPrefix + ".*"

	eventBidPlaced       = "bid_placed"
	eventAuctionEnded    = "auction_ended"
	eventAuctionExtended = "auction_extended"
)

// bidEvent is the bus payload. EventID lets consumers drop redeliveries.
type bidEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
}

// Subject is the per-auction subject. Auction IDs must be a single subject
// token.
func Subject(auctionID string) (string, error) {
	if auctionID == "" || strings.ContainsAny(auctionID, ".*> \t\r\n") {
		return "", fmt.Errorf("%w: %q is not a subject token", domain.ErrInvalidAuctionID, auctionID)
	}
	return subjectPrefix + "." + auctionID, nil
}

func newBidPlaced(update *domain.BidUpdate) bidEvent {
	return bidEvent{
		EventID:   utils.GenerateID("evt"),
		Type:      eventBidPlaced,
		AuctionID: update.AuctionID,
		BidderID:  update.BidderID,
		Amount:    update.Amount,
		Timestamp: update.Timestamp,
	}
}

func newAuctionEnded(auctionID string, at time.Time) bidEvent {
	return bidEvent{
		EventID:   utils.GenerateID("evt"),
		Type:      eventAuctionEnded,
		AuctionID: auctionID,
		Timestamp: at,
	}
}

func newAuctionExtended(auctionID string, endTime, at time.Time) bidEvent {
	return bidEvent{
		EventID:   utils.GenerateID("evt"),
		Type:      eventAuctionExtended,
		AuctionID: auctionID,
		Timestamp: at,
		EndTime:   &endTime,
	}
}

func decodeEvent(data []byte) (bidEvent, error) {
	var ev bidEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return bidEvent{}, err
	}
	if ev.AuctionID == "" {
		return bidEvent{}, fmt.Errorf("event %s has no auction_id", ev.EventID)
	}
	if ev.Type == "" {
		ev.Type = eventBidPlaced
	}
	return ev, nil
}

func (e bidEvent) update() domain.BidUpdate {
	return domain.BidUpdate{
		AuctionID: e.AuctionID,
		BidderID:  e.BidderID,
		Amount:    e.Amount,
		Timestamp: e.Timestamp,
	}
}
