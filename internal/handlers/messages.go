package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/wadesk/internal/conversation"
	"github.com/memohai/wadesk/internal/media"
	"github.com/memohai/wadesk/internal/media/staging"
	"github.com/memohai/wadesk/internal/message"
	"github.com/memohai/wadesk/internal/outbound"
)

// Sender is the outbound pipeline.
type Sender interface {
	SendText(ctx context.Context, in outbound.SendTextInput) (message.Message, error)
	SendMedia(ctx context.Context, in outbound.SendMediaInput) ([]message.Message, error)
	SendReaction(ctx context.Context, in outbound.SendReactionInput) error
}

// MediaProxy resolves provider media on demand.
type MediaProxy interface {
	Open(ctx context.Context, mediaID string) (*media.Payload, bool)
	Describe(ctx context.Context, mediaID string) (media.Info, bool)
}

type ConversationLookup interface {
	Get(ctx context.Context, id string) (conversation.Conversation, error)
}

type MessagesHandler struct {
	conversations ConversationLookup
	messages      message.Reader
	sender        Sender
	media         MediaProxy
	staging       *staging.Dir
	logger        *slog.Logger
}

type SendTextRequest struct {
	Text     string `json:"text" validate:"required"`
	QuotedID string `json:"quoted_id,omitempty"`
}

type ReactionRequest struct {
	// Emoji empty removes our reaction.
	Emoji string `json:"emoji"`
}

type ListMessagesResponse struct {
	Items      []message.Message `json:"items"`
	NextBefore string            `json:"next_before,omitempty"`
}

type SendMediaResponse struct {
	Items []message.Message `json:"items"`
}

type MediaMetaResponse struct {
	Available bool `json:"available"`
	*media.Info
}

func NewMessagesHandler(log *slog.Logger, conversations ConversationLookup, messages message.Reader, sender Sender, proxy MediaProxy, stagingDir *staging.Dir) *MessagesHandler {
	if log == nil {
		log = slog.Default()
	}
	return &MessagesHandler{
		conversations: conversations,
		messages:      messages,
		sender:        sender,
		media:         proxy,
		staging:       stagingDir,
		logger:        log.With(slog.String("handler", "messages")),
	}
}

func (h *MessagesHandler) Register(e *echo.Echo) {
	g := e.Group("/conversations/:conversation_id")
	g.GET("/messages", h.List)
	g.POST("/messages", h.SendText)
	g.POST("/media", h.SendMedia)
	g.POST("/messages/:message_id/reactions", h.React)
	g.GET("/messages/:message_id/media", h.ServeMedia)
	g.GET("/messages/:message_id/media/meta", h.MediaMeta)
}

// List pages backwards through history. Items are returned oldest first;
// next_before is set when older messages may exist.
func (h *MessagesHandler) List(c echo.Context) error {
	ctx := c.Request().Context()
	convID := conversationID(c)
	if _, err := h.conversations.Get(ctx, convID); err != nil {
		return httpError(err)
	}
	limit := 0
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = v
	}
	items, err := h.messages.ListBefore(ctx, convID, c.QueryParam("before"), limit)
	if err != nil {
		return httpError(err)
	}
	resp := ListMessagesResponse{Items: make([]message.Message, 0, len(items))}
	for i := len(items) - 1; i >= 0; i-- {
		resp.Items = append(resp.Items, items[i])
	}
	if len(items) > 0 && len(items) >= pageSize(limit) {
		resp.NextBefore = items[len(items)-1].ProviderMessageID
	}
	return c.JSON(http.StatusOK, resp)
}

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return message.DefaultPageSize
	case limit > message.MaxPageSize:
		return message.MaxPageSize
	default:
		return limit
	}
}

func (h *MessagesHandler) SendText(c echo.Context) error {
	var req SendTextRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	msg, err := h.sender.SendText(c.Request().Context(), outbound.SendTextInput{
		ConversationID: conversationID(c),
		Text:           req.Text,
		QuotedID:       req.QuotedID,
	})
	if err != nil {
		return sendFailure(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

// SendMedia accepts multipart "files" plus optional "caption", "quoted_id"
// and "voice". Files are staged on disk for the duration of the request.
func (h *MessagesHandler) SendMedia(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "files is required")
	}
	voice := false
	if raw := strings.TrimSpace(c.FormValue("voice")); raw != "" {
		if voice, err = strconv.ParseBool(raw); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid voice flag")
		}
	}

	ctx := c.Request().Context()
	batch := h.staging.NewBatch()
	defer func() {
		if err := h.staging.Release(batch); err != nil {
			h.logger.Warn("release staged media failed", slog.String("batch", batch), slog.Any("error", err))
		}
	}()
	files := make([]media.LocalFile, 0, len(headers))
	for i, fh := range headers {
		path, err := h.stage(ctx, batch, i, fh)
		if err != nil {
			return httpError(err)
		}
		files = append(files, media.LocalFile{
			Path:     path,
			Name:     fh.Filename,
			MimeType: fh.Header.Get(echo.HeaderContentType),
			Voice:    voice,
		})
	}

	sent, err := h.sender.SendMedia(ctx, outbound.SendMediaInput{
		ConversationID: conversationID(c),
		Files:          files,
		Caption:        c.FormValue("caption"),
		QuotedID:       c.FormValue("quoted_id"),
	})
	if err != nil {
		if len(sent) > 0 {
			h.logger.Warn("media batch partially sent",
				slog.Int("sent", len(sent)),
				slog.Int("total", len(files)),
				slog.Any("error", err),
			)
		}
		return sendFailure(c, err)
	}
	return c.JSON(http.StatusCreated, SendMediaResponse{Items: sent})
}

func (h *MessagesHandler) stage(ctx context.Context, batch string, index int, fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	name := fmt.Sprintf("%02d-%s", index, fh.Filename)
	return h.staging.Put(ctx, batch, name, src, media.MaxUploadBytes)
}

func (h *MessagesHandler) React(c echo.Context) error {
	var req ReactionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	err := h.sender.SendReaction(c.Request().Context(), outbound.SendReactionInput{
		ConversationID: conversationID(c),
		TargetID:       pathParam(c, "message_id"),
		Emoji:          req.Emoji,
	})
	if err != nil {
		return sendFailure(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ServeMedia streams the bytes behind a message's media reference.
func (h *MessagesHandler) ServeMedia(c echo.Context) error {
	ref, err := h.mediaRef(c)
	if err != nil {
		return err
	}
	payload, ok := h.media.Open(c.Request().Context(), ref.MediaID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "media unavailable")
	}
	defer payload.Body.Close()

	contentType := payload.MimeType
	if contentType == "" {
		contentType = ref.MimeType
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Response().Header().Set(echo.HeaderContentType, contentType)
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=3600")
	if payload.Size > 0 {
		c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(payload.Size, 10))
	}
	c.Response().WriteHeader(http.StatusOK)
	if _, err := io.Copy(c.Response().Writer, payload.Body); err != nil {
		h.logger.Warn("serve media stream failed", slog.String("media_id", ref.MediaID), slog.Any("error", err))
	}
	return nil
}

// MediaMeta reports provider metadata, or available=false when the media
// cannot be resolved.
func (h *MessagesHandler) MediaMeta(c echo.Context) error {
	ref, err := h.mediaRef(c)
	if err != nil {
		return err
	}
	info, ok := h.media.Describe(c.Request().Context(), ref.MediaID)
	if !ok {
		return c.JSON(http.StatusOK, MediaMetaResponse{Available: false})
	}
	return c.JSON(http.StatusOK, MediaMetaResponse{Available: true, Info: &info})
}

func (h *MessagesHandler) mediaRef(c echo.Context) (message.Media, error) {
	msg, err := h.messages.Get(c.Request().Context(), conversationID(c), pathParam(c, "message_id"))
	if err != nil {
		if errors.Is(err, message.ErrNotFound) {
			return message.Media{}, echo.NewHTTPError(http.StatusNotFound, "message not found")
		}
		return message.Media{}, httpError(err)
	}
	ref, ok := message.MediaOf(msg.Content)
	if !ok {
		return message.Media{}, echo.NewHTTPError(http.StatusNotFound, "message has no media")
	}
	return ref, nil
}
