package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/wadesk/internal/auth"
	"github.com/memohai/wadesk/internal/conversation"
)

// ConversationService is the conversation surface the inbox API drives.
type ConversationService interface {
	Get(ctx context.Context, id string) (conversation.Conversation, error)
	List(ctx context.Context, filter conversation.ListFilter) ([]conversation.Conversation, error)
	MarkRead(ctx context.Context, id string) (conversation.Conversation, error)
	Hide(ctx context.Context, id string) (conversation.Conversation, error)
	Archive(ctx context.Context, id string) (conversation.Conversation, error)
	Unarchive(ctx context.Context, id string) (conversation.Conversation, error)
	Assign(ctx context.Context, id, agentID string) (conversation.Conversation, error)
	Delete(ctx context.Context, id string) error
}

type ConversationsHandler struct {
	conversations ConversationService
	logger        *slog.Logger
}

type ListConversationsResponse struct {
	Items []conversation.Conversation `json:"items"`
}

type AssignRequest struct {
	AgentID string `json:"agent_id"`
}

func NewConversationsHandler(log *slog.Logger, conversations ConversationService) *ConversationsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ConversationsHandler{
		conversations: conversations,
		logger:        log.With(slog.String("handler", "conversations")),
	}
}

func (h *ConversationsHandler) Register(e *echo.Echo) {
	g := e.Group("/conversations")
	g.GET("", h.List)
	g.GET("/:conversation_id", h.Get)
	g.POST("/:conversation_id/read", h.MarkRead)
	g.POST("/:conversation_id/hide", h.Hide)
	g.POST("/:conversation_id/archive", h.Archive)
	g.POST("/:conversation_id/unarchive", h.Unarchive)
	g.PUT("/:conversation_id/assignee", h.Assign)
	g.DELETE("/:conversation_id", h.Delete)
}

// List returns the inbox. assigned accepts "me", "none" or an agent id.
func (h *ConversationsHandler) List(c echo.Context) error {
	filter := conversation.ListFilter{
		IncludeHidden:   queryBool(c, "include_hidden"),
		IncludeArchived: queryBool(c, "include_archived"),
	}
	switch assigned := strings.TrimSpace(c.QueryParam("assigned")); assigned {
	case "":
	case "none":
		filter.Unassigned = true
	case "me":
		agentID, err := auth.AgentIDFromContext(c)
		if err != nil {
			return err
		}
		filter.AssignedAgentID = agentID
	default:
		filter.AssignedAgentID = assigned
	}
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		filter.Limit = limit
	}
	items, err := h.conversations.List(c.Request().Context(), filter)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []conversation.Conversation{}
	}
	return c.JSON(http.StatusOK, ListConversationsResponse{Items: items})
}

func (h *ConversationsHandler) Get(c echo.Context) error {
	return h.respond(c, h.conversations.Get)
}

func (h *ConversationsHandler) MarkRead(c echo.Context) error {
	return h.respond(c, h.conversations.MarkRead)
}

func (h *ConversationsHandler) Hide(c echo.Context) error {
	return h.respond(c, h.conversations.Hide)
}

func (h *ConversationsHandler) Archive(c echo.Context) error {
	return h.respond(c, h.conversations.Archive)
}

func (h *ConversationsHandler) Unarchive(c echo.Context) error {
	return h.respond(c, h.conversations.Unarchive)
}

// Assign sets or clears (empty agent_id) the conversation owner.
func (h *ConversationsHandler) Assign(c echo.Context) error {
	id := conversationID(c)
	var req AssignRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	conv, err := h.conversations.Assign(c.Request().Context(), id, strings.TrimSpace(req.AgentID))
	if err != nil {
		return httpError(err)
	}
	h.logger.Info("conversation assigned manually",
		slog.String("conversation_id", id),
		slog.String("agent_id", conv.AssignedAgentID),
	)
	return c.JSON(http.StatusOK, conv)
}

func (h *ConversationsHandler) Delete(c echo.Context) error {
	if err := h.conversations.Delete(c.Request().Context(), conversationID(c)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ConversationsHandler) respond(c echo.Context, fn func(context.Context, string) (conversation.Conversation, error)) error {
	conv, err := fn(c.Request().Context(), conversationID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

// conversationID reads the path id. Clients may percent-encode the "@".
func conversationID(c echo.Context) string {
	return pathParam(c, "conversation_id")
}

func pathParam(c echo.Context, name string) string {
	raw := c.Param(name)
	if v, err := url.PathUnescape(raw); err == nil {
		raw = v
	}
	return strings.TrimSpace(raw)
}

func queryBool(c echo.Context, name string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(c.QueryParam(name)))
	return err == nil && v
}
