package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type HealthHandler struct {
	service string
	version string
	now     func() time.Time
}

func NewHealthHandler(service, version string) *HealthHandler {
	return &HealthHandler{service: service, version: version, now: time.Now}
}

func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"service":   h.service,
		"version":   h.version,
		"timestamp": h.now().Format(time.RFC3339),
	})
}
