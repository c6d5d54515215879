package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"rooster-auction/internal/domain"
	"rooster-auction/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// Amounts are compared in the script as integers of 1/10^amountScale units
// so Lua never compares fractional doubles.
const amountScale = 4

const idempotencyTTL = 24 * time.Hour

const (
	replyAccepted         = "accepted"
	replyDuplicate        = "duplicate"
	replyAuctionNotFound  = "auction_not_found"
	replyAuctionNotActive = "auction_not_active"
	replyAuctionClosed    = "auction_closed"
	replyBidTooLow        = "bid_too_low"
)

// KEYS: order book hash, status key, idempotency key, event channel.
// ARGV: amount, amount in minor units, bidder, unix time, event payload,
// idempotency ttl seconds, active status value, unix time in milliseconds.
var submitBidScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 1 then
    return 'duplicate'
end

local book = redis.call('HMGET', KEYS[1], 'current_minor', 'increment_minor', 'winner_id', 'end_ms')
if book[1] == false then
    return 'auction_not_found'
end

if redis.call('GET', KEYS[2]) ~= ARGV[7] then
    return 'auction_not_active'
end

if book[4] and tonumber(ARGV[8]) >= tonumber(book[4]) then
    return 'auction_closed'
end

local current = tonumber(book[1])
local increment = tonumber(book[2] or '0')
local amount = tonumber(ARGV[2])

if book[3] == false or book[3] == '' then
    if amount < current then
        return 'bid_too_low'
    end
elseif amount <= current or amount < current + increment then
    return 'bid_too_low'
end

redis.call('HSET', KEYS[1],
    'current_bid', ARGV[1],
    'current_minor', ARGV[2],
    'winner_id', ARGV[3],
    'last_updated', ARGV[4])
redis.call('SET', KEYS[3], ARGV[3], 'EX', ARGV[6])
redis.call('PUBLISH', KEYS[4], ARGV[5])
return 'accepted'
`)

// KEYS: order book hash, status key.
// ARGV: unix time in milliseconds, window ms, extension ms, active status value.
// Returns the new end in milliseconds, or 0 when the auction was left alone.
var extendAuctionScript = redis.NewScript(`
if redis.call('GET', KEYS[2]) ~= ARGV[4] then
    return 0
end

local ending = redis.call('HGET', KEYS[1], 'end_ms')
if not ending then
    return 0
end
ending = tonumber(ending)

local now = tonumber(ARGV[1])
if now >= ending or ending - now > tonumber(ARGV[2]) then
    return 0
end

local extended = now + tonumber(ARGV[3])
if extended <= ending then
    return 0
end
redis.call('HSET', KEYS[1], 'end_ms', extended)
return extended
`)

// RedisSettlement settles bids against a Redis order book. Each auction is
// a hash holding the current bid, the winner and the minimum increment; the
// auction status lives in its own key. Accepted bids are published on the
// auction's event channel inside the same script.
type RedisSettlement struct {
	client *redis.Client
	log    logger.Logger
	now    func() time.Time
}

func NewRedisSettlement(client *redis.Client, log logger.Logger) *RedisSettlement {
	return &RedisSettlement{
		client: client,
		log:    log,
		now:    time.Now,
	}
}

func orderBookKey(auctionID string) string {
	return fmt.Sprintf("auction:%s", auctionID)
}

func statusKey(auctionID string) string {
	return fmt.Sprintf("auction:%s:status", auctionID)
}

func idempotencyKey(auctionID, key string) string {
	return fmt.Sprintf("auction:%s:bid:%s", auctionID, key)
}

// EventChannel is the pub/sub channel carrying one auction's bid events.
func EventChannel(auctionID string) string {
	return fmt.Sprintf("auction_events:%s", auctionID)
}

func toMinor(amount decimal.Decimal) string {
	return amount.Shift(amountScale).Round(0).String()
}

func (r *RedisSettlement) SubmitBid(ctx context.Context, req domain.BidRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	now := r.now()
	payload, err := encodeEvent(streamEvent{
		Type: eventBidPlaced,
		Bid: &domain.BidUpdate{
			AuctionID: req.AuctionID,
			BidderID:  req.BidderID,
			Amount:    req.Amount,
			Timestamp: now,
		},
	})
	if err != nil {
		return err
	}

	idemKey := req.IdempotencyKey
	if idemKey == "" {
		// Without a key the bid can only be deduplicated by its own contents.
		idemKey = fmt.Sprintf("%s:%s", req.BidderID, req.Amount.String())
	}

	reply, err := submitBidScript.Run(ctx, r.client,
		[]string{
			orderBookKey(req.AuctionID),
			statusKey(req.AuctionID),
			idempotencyKey(req.AuctionID, idemKey),
			EventChannel(req.AuctionID),
		},
		req.Amount.String(),
		toMinor(req.Amount),
		req.BidderID,
		now.Unix(),
		payload,
		int(idempotencyTTL.Seconds()),
		int(domain.AuctionActive),
		now.UnixMilli(),
	).Text()
	if err != nil {
		return fmt.Errorf("settle bid: %w", err)
	}

	switch reply {
	case replyAccepted:
		r.log.Info("Bid settled", "auction_id", req.AuctionID, "bidder_id", req.BidderID, "amount", req.Amount.String())
		return nil
	case replyDuplicate:
		r.log.Info("Bid already settled", "auction_id", req.AuctionID, "idempotency_key", idemKey)
		return nil
	case replyAuctionNotFound:
		return &domain.SettlementError{AuctionID: req.AuctionID, Reason: reply, Err: domain.ErrAuctionNotFound}
	case replyAuctionNotActive, replyAuctionClosed:
		return &domain.SettlementError{AuctionID: req.AuctionID, Reason: reply, Err: domain.ErrAuctionNotActive}
	case replyBidTooLow:
		return &domain.SettlementError{AuctionID: req.AuctionID, Reason: reply, Err: domain.ErrBidTooLow}
	default:
		return &domain.SettlementError{AuctionID: req.AuctionID, Reason: reply, Err: fmt.Errorf("unexpected settlement reply %q", reply)}
	}
}

// InitializeAuction opens the order book at the starting bid. The first bid
// may match the starting bid; later bids must clear the increment. A zero
// endTime leaves the book open until its status changes.
func (r *RedisSettlement) InitializeAuction(ctx context.Context, auctionID string, startingBid, incrementRule decimal.Decimal, endTime time.Time) error {
	fields := []interface{}{
		"current_bid", startingBid.String(),
		"current_minor", toMinor(startingBid),
		"winner_id", "",
		"increment_rule", incrementRule.String(),
		"increment_minor", toMinor(incrementRule),
		"last_updated", r.now().Unix(),
	}
	if !endTime.IsZero() {
		fields = append(fields, "end_ms", endTime.UnixMilli())
	}
	return r.client.HSet(ctx, orderBookKey(auctionID), fields...).Err()
}

// ExtendAuction pushes the closing time to now+extension when a bid lands
// within window of the end. It reports the new end and whether it moved.
func (r *RedisSettlement) ExtendAuction(ctx context.Context, auctionID string, window, extension time.Duration) (time.Time, bool, error) {
	if window <= 0 || extension <= 0 {
		return time.Time{}, false, nil
	}

	endMs, err := extendAuctionScript.Run(ctx, r.client,
		[]string{orderBookKey(auctionID), statusKey(auctionID)},
		r.now().UnixMilli(),
		window.Milliseconds(),
		extension.Milliseconds(),
		int(domain.AuctionActive),
	).Int64()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("extend auction: %w", err)
	}
	if endMs == 0 {
		return time.Time{}, false, nil
	}

	r.log.Info("Auction extended", "auction_id", auctionID, "end_ms", endMs)
	return time.UnixMilli(endMs), true, nil
}

// SetAuctionStatus stores the status. Ending an auction also tells live
// streams that the auction is over.
func (r *RedisSettlement) SetAuctionStatus(ctx context.Context, auctionID string, status domain.AuctionStatus) error {
	if err := r.client.Set(ctx, statusKey(auctionID), int(status), 0).Err(); err != nil {
		return err
	}
	if status != domain.AuctionEnded && status != domain.AuctionCancelled {
		return nil
	}

	payload, err := encodeEvent(streamEvent{Type: eventAuctionEnded, AuctionID: auctionID})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, EventChannel(auctionID), payload).Err()
}

func (r *RedisSettlement) GetOrderBook(ctx context.Context, auctionID string) (*domain.OrderBook, error) {
	result, err := r.client.HMGet(ctx, orderBookKey(auctionID), "current_bid", "winner_id", "increment_rule", "last_updated", "end_ms").Result()
	if err != nil {
		return nil, err
	}
	if result[0] == nil {
		return nil, domain.ErrAuctionNotFound
	}

	book := &domain.OrderBook{AuctionID: auctionID}
	if book.CurrentBid, err = decimal.NewFromString(result[0].(string)); err != nil {
		return nil, fmt.Errorf("parse current bid: %w", err)
	}
	if s, ok := result[1].(string); ok {
		book.WinnerID = s
	}
	if s, ok := result[2].(string); ok {
		if book.IncrementRule, err = decimal.NewFromString(s); err != nil {
			return nil, fmt.Errorf("parse increment rule: %w", err)
		}
	}
	if s, ok := result[3].(string); ok {
		if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
			book.LastUpdated = time.Unix(unix, 0)
		}
	}
	if s, ok := result[4].(string); ok {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			book.EndTime = time.UnixMilli(ms)
		}
	}

	status, err := r.client.Get(ctx, statusKey(auctionID)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	book.Status = domain.AuctionStatus(status)
	return book, nil
}

func encodeEvent(ev streamEvent) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode bid event: %w", err)
	}
	return string(data), nil
}
