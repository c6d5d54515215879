package nats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"rooster-auction/internal/domain"
	"rooster-auction/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		auctionID string
		want      string
		wantErr   bool
	}{
		{auctionID: "auction_123", want: "bid.events.auction_123"},
		{auctionID: "", wantErr: true},
		{auctionID: "a.b", wantErr: true},
		{auctionID: "*", wantErr: true},
		{auctionID: ">", wantErr: true},
		{auctionID: "a b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.auctionID, func(t *testing.T) {
			got, err := Subject(tt.auctionID)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidAuctionID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBidPlacedEventCarriesUpdate(t *testing.T) {
	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	update := &domain.BidUpdate{AuctionID: "a1", BidderID: "u1", Amount: decimal.RequireFromString("150.25"), Timestamp: at}

	data, err := json.Marshal(newBidPlaced(update))
	require.NoError(t, err)

	ev, err := decodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, eventBidPlaced, ev.Type)
	assert.NotEmpty(t, ev.EventID)

	got := ev.update()
	assert.Equal(t, "a1", got.AuctionID)
	assert.Equal(t, "u1", got.BidderID)
	assert.True(t, got.Amount.Equal(update.Amount))
	assert.True(t, got.Timestamp.Equal(at))
}

func TestAuctionExtendedEventCarriesEnd(t *testing.T) {
	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	end := at.Add(2 * time.Minute)

	data, err := json.Marshal(newAuctionExtended("a1", end, at))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"end_time":"2026-05-04T12:02:00Z"`)

	placed, err := json.Marshal(newBidPlaced(&domain.BidUpdate{AuctionID: "a1", Timestamp: at}))
	require.NoError(t, err)
	assert.NotContains(t, string(placed), "end_time")
}

func TestDecodeEvent(t *testing.T) {
	ev, err := decodeEvent([]byte(`{"auction_id":"a1","bidder_id":"u1","amount":"10"}`))
	require.NoError(t, err)
	assert.Equal(t, eventBidPlaced, ev.Type, "missing type defaults to a bid")

	ev, err = decodeEvent([]byte(`{"type":"auction_ended","auction_id":"a1"}`))
	require.NoError(t, err)
	assert.Equal(t, eventAuctionEnded, ev.Type)

	ev, err = decodeEvent([]byte(`{"type":"auction_extended","auction_id":"a1","end_time":"2026-05-04T12:02:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, eventAuctionExtended, ev.Type)
	require.NotNil(t, ev.EndTime)
	assert.Equal(t, 2, ev.EndTime.Minute())

	_, err = decodeEvent([]byte(`{"type":"bid_placed"}`))
	assert.Error(t, err)

	_, err = decodeEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestStreamBeforeConnect(t *testing.T) {
	stream := NewBidStream(nil, logger.NewNop())

	_, err := stream.Next(context.Background())
	assert.ErrorIs(t, err, errStreamNotConnected)
	assert.NoError(t, stream.Disconnect())
	assert.NoError(t, stream.Disconnect())
}

func TestStreamConnectRejectsBadAuctionID(t *testing.T) {
	stream := NewBidStream(nil, logger.NewNop())

	err := stream.Connect(context.Background(), "a.*")
	assert.ErrorIs(t, err, domain.ErrInvalidAuctionID)
}
