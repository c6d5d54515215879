package handlers

import (
	"context"
	"net/http"
	"time"

	"rooster-auction/internal/domain"
	"rooster-auction/internal/services"
	"rooster-auction/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type BidPlacer interface {
	PlaceBid(ctx context.Context, req domain.BidRequest) services.BidOutcome
}

type RetryJobReader interface {
	GetJob(ctx context.Context, jobID string) (*domain.RetryJob, error)
}

type BidHandler struct {
	bids BidPlacer
	jobs RetryJobReader
	log  logger.Logger
}

type PlaceBidRequest struct {
	BidderID       string          `json:"bidder_id"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type PlaceBidResponse struct {
	AuctionID      string            `json:"auction_id"`
	Accepted       bool              `json:"accepted"`
	IdempotencyKey string            `json:"idempotency_key"`
	SettledAt      *time.Time        `json:"settled_at,omitempty"`
	ExtendedUntil  *time.Time        `json:"extended_until,omitempty"`
	Error          string            `json:"error,omitempty"`
	RetryJob       *RetryJobResponse `json:"retry_job,omitempty"`
}

type RetryJobResponse struct {
	ID        string          `json:"id"`
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	State     string          `json:"state"`
	Attempt   int             `json:"attempt"`
	RunAt     time.Time       `json:"run_at"`
	LastError string          `json:"last_error,omitempty"`
}

func NewBidHandler(bids BidPlacer, jobs RetryJobReader, log logger.Logger) *BidHandler {
	return &BidHandler{
		bids: bids,
		jobs: jobs,
		log:  log,
	}
}

func (h *BidHandler) RegisterRoutes(api *echo.Group) {
	api.POST("/auctions/:id/bids", h.PlaceBid)
	api.GET("/retry-jobs/:id", h.GetRetryJob)
}

// PlaceBid answers 201 when settled, 202 when a payment fallback job took
// over, and an error status otherwise.
func (h *BidHandler) PlaceBid(c echo.Context) error {
	auctionID := c.Param("id")

	var req PlaceBidRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if req.BidderID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bidder_id required"})
	}

	outcome := h.bids.PlaceBid(c.Request().Context(), domain.BidRequest{
		AuctionID:      auctionID,
		BidderID:       req.BidderID,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
	})
	result := outcome.Result

	resp := PlaceBidResponse{
		AuctionID:      auctionID,
		Accepted:       result.Accepted,
		IdempotencyKey: result.Request.IdempotencyKey,
	}
	if result.Accepted {
		settledAt := result.SettledAt
		resp.SettledAt = &settledAt
		if !outcome.ExtendedUntil.IsZero() {
			resp.ExtendedUntil = &outcome.ExtendedUntil
		}
		return c.JSON(http.StatusCreated, resp)
	}

	resp.Error = result.Err.Error()
	if outcome.RetryJob != nil {
		resp.RetryJob = retryJobResponse(outcome.RetryJob)
		return c.JSON(http.StatusAccepted, resp)
	}
	return c.JSON(statusFor(result.Err), resp)
}

func (h *BidHandler) GetRetryJob(c echo.Context) error {
	job, err := h.jobs.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, retryJobResponse(job))
}

func retryJobResponse(job *domain.RetryJob) *RetryJobResponse {
	return &RetryJobResponse{
		ID:        job.ID,
		AuctionID: job.AuctionID,
		BidderID:  job.BidderID,
		Amount:    job.Amount,
		State:     string(job.State),
		Attempt:   job.Attempt,
		RunAt:     job.RunAt,
		LastError: job.LastError,
	}
}
