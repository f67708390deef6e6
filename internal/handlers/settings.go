package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/wadesk/internal/settings"
)

type SettingsService interface {
	Get(ctx context.Context) (settings.Settings, error)
	Upsert(ctx context.Context, req settings.UpsertRequest) (settings.Settings, error)
}

type SettingsHandler struct {
	service SettingsService
	logger  *slog.Logger
}

func NewSettingsHandler(log *slog.Logger, service SettingsService) *SettingsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SettingsHandler{
		service: service,
		logger:  log.With(slog.String("handler", "settings")),
	}
}

func (h *SettingsHandler) Register(e *echo.Echo) {
	e.GET("/settings", h.Get)
	e.PUT("/settings", h.Upsert)
}

func (h *SettingsHandler) Get(c echo.Context) error {
	resp, err := h.service.Get(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *SettingsHandler) Upsert(c echo.Context) error {
	var req settings.UpsertRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.service.Upsert(c.Request().Context(), req)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}
