package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// OutboundStatus reports whether sending credentials are configured.
type OutboundStatus interface {
	Configured() bool
}

type PingHandler struct {
	outbound OutboundStatus
	logger   *slog.Logger
}

func NewPingHandler(log *slog.Logger, outbound OutboundStatus) *PingHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PingHandler{outbound: outbound, logger: log.With(slog.String("handler", "ping"))}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.GET("/health", h.Ping)
	e.HEAD("/health", h.PingHead)
}

func (h *PingHandler) Ping(c echo.Context) error {
	outbound := "disabled"
	if h.outbound != nil && h.outbound.Configured() {
		outbound = "enabled"
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":   "ok",
		"outbound": outbound,
	})
}

func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
