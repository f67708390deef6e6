package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/wadesk/internal/config"
	"github.com/memohai/wadesk/internal/metrics"
)

const webhookMaxBodyBytes int64 = 1 << 20 // 1 MiB

// BatchProcessor applies a normalized webhook change.
type BatchProcessor interface {
	Process(ctx context.Context, batch Batch)
}

// WebhookHandler receives Cloud API webhook calls.
type WebhookHandler struct {
	logger      *slog.Logger
	appSecret   string
	verifyToken string
	processor   BatchProcessor
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewWebhookHandler(log *slog.Logger, cfg config.WhatsAppConfig, processor BatchProcessor, m *metrics.Metrics) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.AppSecret == "" {
		log.Warn("whatsapp app_secret is empty; webhook signatures are not verified")
	}
	return &WebhookHandler{
		logger:      log.With(slog.String("handler", "whatsapp_webhook")),
		appSecret:   cfg.AppSecret,
		verifyToken: cfg.VerifyToken,
		processor:   processor,
		metrics:     m,
		now:         time.Now,
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/webhooks/whatsapp", h.HandleVerify)
	e.POST("/webhooks/whatsapp", h.Handle)
}

// HandleVerify answers the subscription handshake.
func (h *WebhookHandler) HandleVerify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")
	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		h.metrics.WebhookRequest("verify_rejected")
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}
	h.metrics.WebhookRequest("verified")
	return c.String(http.StatusOK, challenge)
}

// Handle verifies the signature over the raw body, then normalizes and
// applies every change. Once the signature passes the provider always gets
// 200, because a redelivery cannot fix a payload we failed to apply.
func (h *WebhookHandler) Handle(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBodyBytes+1))
	if err != nil {
		h.metrics.WebhookRequest("read_error")
		h.logger.Error("read webhook body failed", slog.Any("error", err))
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}
	// The signature covers the whole body, so an oversized payload can be
	// neither verified nor applied. It is dropped unprocessed.
	if int64(len(payload)) > webhookMaxBodyBytes {
		h.metrics.WebhookRequest("too_large")
		h.logger.Error("webhook payload too large, dropped", slog.Int64("max_bytes", webhookMaxBodyBytes))
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}
	if err := VerifySignature(payload, h.appSecret, c.Request().Header.Get(SignatureHeader)); err != nil {
		h.metrics.WebhookRequest("unauthorized")
		h.logger.Warn("webhook signature rejected", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	var body WebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		h.metrics.WebhookRequest("malformed")
		h.logger.Error("decode webhook payload failed", slog.Any("error", err), slog.Int("bytes", len(payload)))
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}
	if body.Object != "" && body.Object != ObjectBusinessAccount {
		h.metrics.WebhookRequest("ignored")
		h.logger.Debug("ignoring webhook object", slog.String("object", body.Object))
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}

	ctx := context.WithoutCancel(c.Request().Context())
	receivedAt := h.now()
	for _, entry := range body.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			batch := Normalize(change.Value, receivedAt)
			if batch.Empty() {
				continue
			}
			if h.processor == nil {
				return errors.New("webhook processor not configured")
			}
			h.processor.Process(ctx, batch)
		}
	}
	h.metrics.WebhookRequest("ok")
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
