package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"rooster-auction/internal/domain"
	"rooster-auction/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	bids map[string][]*domain.BidUpdate
	err  error
}

func (f *fakeLedger) RecordBid(ctx context.Context, update *domain.BidUpdate) error { return nil }

func (f *fakeLedger) GetBidHistory(ctx context.Context, auctionID string) ([]*domain.BidUpdate, error) {
	return f.bids[auctionID], f.err
}

func serveHistory(ledger *fakeLedger, path string) *httptest.ResponseRecorder {
	e := echo.New()
	NewHistoryHandler(ledger, logger.NewNop()).RegisterRoutes(e.Group("/api/v1"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestGetBidHistory(t *testing.T) {
	ledger := &fakeLedger{bids: map[string][]*domain.BidUpdate{
		"a1": {{AuctionID: "a1", BidderID: "u1", Amount: decimal.NewFromInt(110), Timestamp: settled}},
	}}

	rec := serveHistory(ledger, "/api/v1/auctions/a1/bids")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"auction_id":"a1","bids":[
		{"auction_id":"a1","bidder_id":"u1","amount":"110","timestamp":"2026-03-02T09:30:00Z"}
	]}`, rec.Body.String())

	rec = serveHistory(ledger, "/api/v1/auctions/empty/bids")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"auction_id":"empty","bids":[]}`, rec.Body.String())
}

func TestGetBidHistoryError(t *testing.T) {
	rec := serveHistory(&fakeLedger{err: errors.New("mysql down")}, "/api/v1/auctions/a1/bids")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
