package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingHandler serves /ping for liveness and HEAD /health for readiness.
type PingHandler struct {
	db     Pinger
	logger *slog.Logger
}

// NewPingHandler creates a ping handler. db may be nil, in which case /health only reports liveness.
func NewPingHandler(log *slog.Logger, db Pinger) *PingHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PingHandler{db: db, logger: log.With(slog.String("handler", "ping"))}
}

// Register mounts GET /ping and HEAD /health on the Echo instance.
func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.Health)
}

// Ping returns 200 JSON {"status":"ok"}.
func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Health returns 200 when the database answers, 503 otherwise.
func (h *PingHandler) Health(c echo.Context) error {
	if h.db == nil {
		return c.NoContent(http.StatusOK)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", slog.Any("error", err))
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusOK)
}
