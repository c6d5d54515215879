package handlers

import (
	"context"
	"net/http"
	"time"

	"rooster-auction/internal/domain"
	"rooster-auction/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type AuctionService interface {
	CreateAuction(ctx context.Context, spec domain.AuctionSpec) (*domain.Auction, error)
	StartAuction(ctx context.Context, auctionID string) error
	EndAuction(ctx context.Context, auctionID string) (*domain.AuctionOutcome, error)
	GetOrderBook(ctx context.Context, auctionID string) (*domain.OrderBook, error)
}

type AuctionHandler struct {
	auctions AuctionService
	log      logger.Logger
}

// CreateAuctionRequest leaves extension off unless extension_window_seconds
// is set. A missing start_time starts the auction now.
type CreateAuctionRequest struct {
	StartTime              time.Time       `json:"start_time"`
	EndTime                time.Time       `json:"end_time"`
	StartingBid            decimal.Decimal `json:"starting_bid"`
	ReservePrice           decimal.Decimal `json:"reserve_price"`
	MinIncrement           decimal.Decimal `json:"min_increment"`
	ExtensionWindowSeconds int             `json:"extension_window_seconds"`
	ExtensionSeconds       int             `json:"extension_seconds"`
}

type CreateAuctionResponse struct {
	AuctionID              string          `json:"auction_id"`
	StartTime              time.Time       `json:"start_time"`
	EndTime                time.Time       `json:"end_time"`
	StartingBid            decimal.Decimal `json:"starting_bid"`
	ReservePrice           decimal.Decimal `json:"reserve_price"`
	ExtensionWindowSeconds int             `json:"extension_window_seconds,omitempty"`
	ExtensionSeconds       int             `json:"extension_seconds,omitempty"`
	Status                 string          `json:"status"`
}

type EndAuctionResponse struct {
	AuctionID  string          `json:"auction_id"`
	Status     string          `json:"status"`
	WinnerID   string          `json:"winner_id,omitempty"`
	WinningBid decimal.Decimal `json:"winning_bid"`
	ReserveMet bool            `json:"reserve_met"`
}

type OrderBookResponse struct {
	AuctionID     string          `json:"auction_id"`
	CurrentBid    decimal.Decimal `json:"current_bid"`
	WinnerID      string          `json:"winner_id,omitempty"`
	IncrementRule decimal.Decimal `json:"increment_rule"`
	Status        string          `json:"status"`
	LastUpdated   time.Time       `json:"last_updated"`
	EndTime       *time.Time      `json:"end_time,omitempty"`
}

func NewAuctionHandler(auctions AuctionService, log logger.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctions: auctions,
		log:      log,
	}
}

func (h *AuctionHandler) RegisterRoutes(api *echo.Group) {
	api.POST("/auctions", h.CreateAuction)
	api.GET("/auctions/:id", h.GetAuction)
	api.POST("/auctions/:id/start", h.StartAuction)
	api.POST("/auctions/:id/end", h.EndAuction)
}

func (h *AuctionHandler) CreateAuction(c echo.Context) error {
	h.log.Info("CreateAuction endpoint called",
		"method", c.Request().Method,
		"remote_addr", c.RealIP(),
		"user_agent", c.Request().UserAgent())

	var req CreateAuctionRequest
	if err := c.Bind(&req); err != nil {
		h.log.Error("Failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	if !req.StartingBid.IsPositive() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Starting bid must be positive"})
	}

	auction, err := h.auctions.CreateAuction(c.Request().Context(), domain.AuctionSpec{
		StartTime:         req.StartTime,
		EndTime:           req.EndTime,
		StartingBid:       req.StartingBid,
		ReservePrice:      req.ReservePrice,
		MinIncrement:      req.MinIncrement,
		ExtensionWindow:   time.Duration(req.ExtensionWindowSeconds) * time.Second,
		ExtensionDuration: time.Duration(req.ExtensionSeconds) * time.Second,
	})
	if err != nil {
		h.log.Error("Failed to create auction", "error", err)
		return errorJSON(c, err)
	}

	h.log.Info("Auction created successfully", "auction_id", auction.ID)
	return c.JSON(http.StatusCreated, CreateAuctionResponse{
		AuctionID:              auction.ID,
		StartTime:              auction.StartTime,
		EndTime:                auction.EndTime,
		StartingBid:            auction.StartingBid,
		ReservePrice:           auction.ReservePrice,
		ExtensionWindowSeconds: int(auction.ExtensionWindow / time.Second),
		ExtensionSeconds:       int(auction.ExtensionDuration / time.Second),
		Status:                 auction.Status.String(),
	})
}

// GetAuction returns the live order book.
func (h *AuctionHandler) GetAuction(c echo.Context) error {
	auctionID := c.Param("id")

	book, err := h.auctions.GetOrderBook(c.Request().Context(), auctionID)
	if err != nil {
		return errorJSON(c, err)
	}

	resp := OrderBookResponse{
		AuctionID:     book.AuctionID,
		CurrentBid:    book.CurrentBid,
		WinnerID:      book.WinnerID,
		IncrementRule: book.IncrementRule,
		Status:        book.Status.String(),
		LastUpdated:   book.LastUpdated,
	}
	if !book.EndTime.IsZero() {
		resp.EndTime = &book.EndTime
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *AuctionHandler) StartAuction(c echo.Context) error {
	auctionID := c.Param("id")
	if err := h.auctions.StartAuction(c.Request().Context(), auctionID); err != nil {
		h.log.Error("Failed to start auction", "auction_id", auctionID, "error", err)
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"auction_id": auctionID, "status": domain.AuctionActive.String()})
}

func (h *AuctionHandler) EndAuction(c echo.Context) error {
	auctionID := c.Param("id")
	outcome, err := h.auctions.EndAuction(c.Request().Context(), auctionID)
	if err != nil {
		h.log.Error("Failed to end auction", "auction_id", auctionID, "error", err)
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, EndAuctionResponse{
		AuctionID:  auctionID,
		Status:     domain.AuctionEnded.String(),
		WinnerID:   outcome.WinnerID,
		WinningBid: outcome.WinningBid,
		ReserveMet: outcome.ReserveMet,
	})
}
