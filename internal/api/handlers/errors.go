package handlers

import (
	"context"
	"errors"
	"net/http"

	"rooster-auction/internal/domain"
	"rooster-auction/internal/services"

	"github.com/labstack/echo/v4"
)

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAuctionNotFound), errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound
	case domain.IsInvalidInput(err), errors.Is(err, services.ErrInvalidSchedule):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuctionNotActive), errors.Is(err, domain.ErrBidTooLow):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case domain.IsSettlementError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorJSON(c echo.Context, err error) error {
	return c.JSON(statusFor(err), map[string]string{"error": err.Error()})
}
