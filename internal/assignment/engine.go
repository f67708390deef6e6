// Package assignment routes unassigned conversations to active agents in
// round-robin order.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/memohai/wadesk/internal/agents"
	"github.com/memohai/wadesk/internal/conversation"
	"github.com/memohai/wadesk/internal/metrics"
)

// CursorKey names the rotation shared by all inbound routing.
const CursorKey = "inbound"

type Toggle interface {
	AutoAssign(ctx context.Context) (bool, error)
}

type AgentLister interface {
	List(ctx context.Context, activeOnly bool) ([]agents.Agent, error)
}

type Conversations interface {
	Get(ctx context.Context, id string) (conversation.Conversation, error)
	AssignIfUnassigned(ctx context.Context, id, agentID string) (bool, error)
}

type Engine struct {
	toggle        Toggle
	agents        AgentLister
	conversations Conversations
	cursor        *Cursor
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

func NewEngine(log *slog.Logger, toggle Toggle, agentList AgentLister, conversations Conversations, cursor *Cursor, m *metrics.Metrics) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		toggle:        toggle,
		agents:        agentList,
		conversations: conversations,
		cursor:        cursor,
		metrics:       m,
		logger:        log.With(slog.String("service", "assignment")),
	}
}

// Assign gives conversationID to the next agent in rotation. It is a no-op
// returning assigned=false when auto assignment is off, the conversation
// already has an owner, or no agent is active. When a concurrent caller wins
// the conditional write, the winner's id is returned with assigned=false.
func (e *Engine) Assign(ctx context.Context, conversationID string) (string, bool, error) {
	enabled, err := e.toggle.AutoAssign(ctx)
	if err != nil {
		return "", false, err
	}
	if !enabled {
		e.metrics.Assignment("disabled")
		return "", false, nil
	}

	conv, err := e.conversations.Get(ctx, conversationID)
	if err != nil {
		return "", false, fmt.Errorf("load conversation: %w", err)
	}
	if conv.Assigned() {
		e.metrics.Assignment("already_assigned")
		return conv.AssignedAgentID, false, nil
	}

	pool, err := e.agents.List(ctx, true)
	if err != nil {
		return "", false, fmt.Errorf("list agents: %w", err)
	}
	if len(pool) == 0 {
		e.metrics.Assignment("no_agents")
		e.logger.Debug("no active agents", slog.String("conversation_id", conversationID))
		return "", false, nil
	}

	idx, err := e.cursor.Next(ctx, CursorKey, len(pool))
	if err != nil {
		return "", false, fmt.Errorf("advance cursor: %w", err)
	}
	agentID := pool[idx].ID

	won, err := e.conversations.AssignIfUnassigned(ctx, conversationID, agentID)
	if err != nil {
		return "", false, err
	}
	if !won {
		e.metrics.Assignment("lost_race")
		current, err := e.conversations.Get(ctx, conversationID)
		if errors.Is(err, conversation.ErrNotFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		return current.AssignedAgentID, false, nil
	}
	e.metrics.Assignment("assigned")
	e.logger.Info("conversation assigned",
		slog.String("conversation_id", conversationID),
		slog.String("agent_id", agentID),
	)
	return agentID, true, nil
}
