package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/wadesk/internal/agents"
)

type AgentService interface {
	Create(ctx context.Context, req agents.CreateAgentRequest) (agents.Agent, error)
	List(ctx context.Context, activeOnly bool) ([]agents.Agent, error)
	Delete(ctx context.Context, id string) error
}

type AgentsHandler struct {
	agents AgentService
	logger *slog.Logger
}

func NewAgentsHandler(log *slog.Logger, service AgentService) *AgentsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AgentsHandler{
		agents: service,
		logger: log.With(slog.String("handler", "agents")),
	}
}

func (h *AgentsHandler) Register(e *echo.Echo) {
	g := e.Group("/agents")
	g.GET("", h.List)
	g.POST("", h.Create)
	g.DELETE("/:agent_id", h.Delete)
}

func (h *AgentsHandler) List(c echo.Context) error {
	items, err := h.agents.List(c.Request().Context(), queryBool(c, "active"))
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []agents.Agent{}
	}
	return c.JSON(http.StatusOK, agents.ListAgentsResponse{Items: items})
}

func (h *AgentsHandler) Create(c echo.Context) error {
	var req agents.CreateAgentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	agent, err := h.agents.Create(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, agent)
}

func (h *AgentsHandler) Delete(c echo.Context) error {
	if err := h.agents.Delete(c.Request().Context(), pathParam(c, "agent_id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
