package redis

import (
	"context"
	"testing"
	"time"

	"rooster-auction/internal/domain"
	"rooster-auction/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 4, 2, 15, 4, 5, 0, time.UTC)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newTestSettlement(t *testing.T) (*RedisSettlement, *redis.Client) {
	t.Helper()
	_, client := newTestClient(t)
	s := NewRedisSettlement(client, logger.NewNop())
	s.now = func() time.Time { return testNow }
	return s, client
}

func openAuction(t *testing.T, s *RedisSettlement, id string, starting, increment int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.InitializeAuction(ctx, id, decimal.NewFromInt(starting), decimal.NewFromInt(increment), testNow.Add(time.Hour)))
	require.NoError(t, s.SetAuctionStatus(ctx, id, domain.AuctionActive))
}

func request(auctionID, bidder, amount, key string) domain.BidRequest {
	return domain.BidRequest{
		AuctionID:      auctionID,
		BidderID:       bidder,
		Amount:         decimal.RequireFromString(amount),
		IdempotencyKey: key,
	}
}

func TestSubmitBidUnknownAuction(t *testing.T) {
	s, _ := newTestSettlement(t)

	err := s.SubmitBid(context.Background(), request("missing", "u1", "10", "k1"))

	assert.ErrorIs(t, err, domain.ErrAuctionNotFound)
	assert.True(t, domain.IsSettlementError(err))
}

func TestSubmitBidInactiveAuction(t *testing.T) {
	s, _ := newTestSettlement(t)
	ctx := context.Background()
	require.NoError(t, s.InitializeAuction(ctx, "a1", decimal.NewFromInt(100), decimal.NewFromInt(10), time.Time{}))

	err := s.SubmitBid(ctx, request("a1", "u1", "200", "k1"))
	assert.ErrorIs(t, err, domain.ErrAuctionNotActive)

	require.NoError(t, s.SetAuctionStatus(ctx, "a1", domain.AuctionEnded))
	err = s.SubmitBid(ctx, request("a1", "u1", "200", "k2"))
	assert.ErrorIs(t, err, domain.ErrAuctionNotActive)
}

func TestSubmitBidIncrementRules(t *testing.T) {
	s, _ := newTestSettlement(t)
	ctx := context.Background()
	openAuction(t, s, "a1", 100, 10)

	// The opening bid may match the starting price.
	require.NoError(t, s.SubmitBid(ctx, request("a1", "u1", "100", "k1")))

	err := s.SubmitBid(ctx, request("a1", "u2", "100", "k2"))
	assert.ErrorIs(t, err, domain.ErrBidTooLow)

	err = s.SubmitBid(ctx, request("a1", "u2", "109.99", "k3"))
	assert.ErrorIs(t, err, domain.ErrBidTooLow)

	require.NoError(t, s.SubmitBid(ctx, request("a1", "u2", "110", "k4")))

	book, err := s.GetOrderBook(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "110", book.CurrentBid.String())
	assert.Equal(t, "u2", book.WinnerID)
	assert.Equal(t, "10", book.IncrementRule.String())
	assert.Equal(t, domain.AuctionActive, book.Status)
	assert.Equal(t, testNow.Unix(), book.LastUpdated.Unix())
	assert.True(t, testNow.Add(time.Hour).Equal(book.EndTime))
}

func TestSubmitBidAfterEndTime(t *testing.T) {
	s, _ := newTestSettlement(t)
	ctx := context.Background()
	openAuction(t, s, "a1", 100, 10)

	require.NoError(t, s.SubmitBid(ctx, request("a1", "u1", "100", "k1")))

	// The status key still says active until the lifecycle poll ends it.
	s.now = func() time.Time { return testNow.Add(time.Hour) }
	err := s.SubmitBid(ctx, request("a1", "u2", "500", "k2"))

	assert.ErrorIs(t, err, domain.ErrAuctionNotActive)
	assert.True(t, domain.IsPermanentRejection(err))
	var se *domain.SettlementError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "auction_closed", se.Reason)

	book, err := s.GetOrderBook(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "u1", book.WinnerID)
}

func TestExtendAuction(t *testing.T) {
	s, _ := newTestSettlement(t)
	ctx := context.Background()
	openAuction(t, s, "a1", 100, 10)
	end := testNow.Add(time.Hour)

	// Far from the end: untouched.
	_, extended, err := s.ExtendAuction(ctx, "a1", time.Minute, 2*time.Minute)
	require.NoError(t, err)
	assert.False(t, extended)

	s.now = func() time.Time { return end.Add(-30 * time.Second) }
	newEnd, extended, err := s.ExtendAuction(ctx, "a1", time.Minute, 2*time.Minute)
	require.NoError(t, err)
	require.True(t, extended)
	assert.True(t, end.Add(90*time.Second).Equal(newEnd))

	book, err := s.GetOrderBook(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, newEnd.Equal(book.EndTime))

	// A bid that would have been too late before the extension now settles.
	s.now = func() time.Time { return end.Add(time.Second) }
	assert.NoError(t, s.SubmitBid(ctx, request("a1", "u1", "100", "late")))
}

func TestExtendAuctionLeavesClosedAndUntimedBooks(t *testing.T) {
	s, _ := newTestSettlement(t)
	ctx := context.Background()
	openAuction(t, s, "a1", 100, 10)

	s.now = func() time.Time { return testNow.Add(2 * time.Hour) }
	_, extended, err := s.ExtendAuction(ctx, "a1", time.Minute, time.Minute)
	require.NoError(t, err)
	assert.False(t, extended, "already past its end")

	require.NoError(t, s.InitializeAuction(ctx, "open", decimal.NewFromInt(1), decimal.NewFromInt(1), time.Time{}))
	require.NoError(t, s.SetAuctionStatus(ctx, "open", domain.AuctionActive))
	_, extended, err = s.ExtendAuction(ctx, "open", time.Minute, time.Minute)
	require.NoError(t, err)
	assert.False(t, extended, "no end time")

	_, extended, err = s.ExtendAuction(ctx, "a1", 0, time.Minute)
	require.NoError(t, err)
	assert.False(t, extended, "extension disabled")
}

func TestSubmitBidOpeningBelowStart(t *testing.T) {
	s, _ := newTestSettlement(t)
	openAuction(t, s, "a1", 100, 10)

	err := s.SubmitBid(context.Background(), request("a1", "u1", "99.5", "k1"))
	assert.ErrorIs(t, err, domain.ErrBidTooLow)
}

func TestSubmitBidReplayIsIdempotent(t *testing.T) {
	s, client := newTestSettlement(t)
	ctx := context.Background()
	openAuction(t, s, "a1", 100, 10)

	sub := client.Subscribe(ctx, EventChannel("a1"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, s.SubmitBid(ctx, request("a1", "u1", "200", "same-key")))
	// The replay would be too low if it were settled again.
	require.NoError(t, s.SubmitBid(ctx, request("a1", "u1", "200", "same-key")))

	msg, err := sub.ReceiveTimeout(ctx, time.Second)
	require.NoError(t, err)
	require.IsType(t, &redis.Message{}, msg)

	_, err = sub.ReceiveTimeout(ctx, 100*time.Millisecond)
	assert.Error(t, err, "replay must not publish a second event")

	book, err := s.GetOrderBook(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "200", book.CurrentBid.String())
}

func TestSubmitBidInvalidInput(t *testing.T) {
	s, _ := newTestSettlement(t)

	err := s.SubmitBid(context.Background(), request("", "u1", "10", "k"))
	assert.ErrorIs(t, err, domain.ErrInvalidAuctionID)
	assert.False(t, domain.IsSettlementError(err))
}

func TestGetOrderBookUnknown(t *testing.T) {
	s, _ := newTestSettlement(t)

	_, err := s.GetOrderBook(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrAuctionNotFound)
}

func TestGetOrderBookDefaultsToPending(t *testing.T) {
	s, _ := newTestSettlement(t)
	ctx := context.Background()
	require.NoError(t, s.InitializeAuction(ctx, "a1", decimal.NewFromInt(5), decimal.NewFromInt(1), time.Time{}))

	book, err := s.GetOrderBook(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionPending, book.Status)
	assert.Empty(t, book.WinnerID)
}

func TestToMinor(t *testing.T) {
	assert.Equal(t, "1000000", toMinor(decimal.NewFromInt(100)))
	assert.Equal(t, "1099900", toMinor(decimal.RequireFromString("109.99")))
	assert.Equal(t, "1", toMinor(decimal.RequireFromString("0.0001")))
}
