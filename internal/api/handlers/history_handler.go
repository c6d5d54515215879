package handlers

import (
	"net/http"

	"rooster-auction/internal/domain"
	"rooster-auction/pkg/logger"

	"github.com/labstack/echo/v4"
)

// HistoryHandler serves the archived bids of an auction.
type HistoryHandler struct {
	ledger domain.BidLedger
	log    logger.Logger
}

func NewHistoryHandler(ledger domain.BidLedger, log logger.Logger) *HistoryHandler {
	return &HistoryHandler{ledger: ledger, log: log}
}

func (h *HistoryHandler) RegisterRoutes(api *echo.Group) {
	api.GET("/auctions/:id/bids", h.GetBidHistory)
}

func (h *HistoryHandler) GetBidHistory(c echo.Context) error {
	auctionID := c.Param("id")

	bids, err := h.ledger.GetBidHistory(c.Request().Context(), auctionID)
	if err != nil {
		h.log.Error("Failed to read bid history", "auction_id", auctionID, "error", err)
		return errorJSON(c, err)
	}
	if bids == nil {
		bids = []*domain.BidUpdate{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"auction_id": auctionID,
		"bids":       bids,
	})
}
