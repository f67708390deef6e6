package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/wadesk/internal/message/event"
	"github.com/memohai/wadesk/internal/store"
)

var (
	ErrNotFound      = errors.New("conversation not found")
	ErrInvalidID     = errors.New("conversation id is required")
	ErrAgentRequired = errors.New("agent id is required")
)

const maxListLimit = 500

// Store is the subset of store.Driver the conversation service needs.
type Store interface {
	TouchConversation(ctx context.Context, touch *store.TouchConversation) (*store.Conversation, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error)
	UpdateConversation(ctx context.Context, update *store.UpdateConversation) (*store.Conversation, error)
	AssignConversation(ctx context.Context, assign *store.AssignConversation) (bool, error)
	DeleteConversation(ctx context.Context, id string) error
}

// Service owns conversation metadata: unread counters, visibility,
// archival and assignment.
type Service struct {
	store     Store
	publisher event.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(log *slog.Logger, st Store, publisher event.Publisher) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:     st,
		publisher: publisher,
		logger:    log.With(slog.String("service", "conversation")),
		now:       time.Now,
	}
}

// TouchInbound records a newly stored inbound message: the conversation is
// created if needed, its unread counter goes up by one and it becomes
// visible again.
func (s *Service) TouchInbound(ctx context.Context, id, displayName string, at time.Time) (Conversation, error) {
	return s.touch(ctx, &store.TouchConversation{ID: id, DisplayName: strings.TrimSpace(displayName), LastMessageAt: at, Inbound: true})
}

// TouchOutbound only moves the last activity time forward.
func (s *Service) TouchOutbound(ctx context.Context, id string, at time.Time) (Conversation, error) {
	return s.touch(ctx, &store.TouchConversation{ID: id, LastMessageAt: at})
}

func (s *Service) touch(ctx context.Context, touch *store.TouchConversation) (Conversation, error) {
	if strings.TrimSpace(touch.ID) == "" {
		return Conversation{}, ErrInvalidID
	}
	if touch.LastMessageAt.IsZero() {
		touch.LastMessageAt = s.now()
	}
	row, err := s.store.TouchConversation(ctx, touch)
	if err != nil {
		return Conversation{}, err
	}
	return fromRow(row), nil
}

func (s *Service) Get(ctx context.Context, id string) (Conversation, error) {
	row, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return Conversation{}, mapErr(err)
	}
	return fromRow(row), nil
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Conversation, error) {
	find := &store.FindConversation{
		IncludeHidden:   filter.IncludeHidden,
		IncludeArchived: filter.IncludeArchived,
		Unassigned:      filter.Unassigned,
		Limit:           filter.Limit,
	}
	if find.Limit <= 0 || find.Limit > maxListLimit {
		find.Limit = maxListLimit
	}
	if agentID := strings.TrimSpace(filter.AssignedAgentID); agentID != "" {
		find.AssignedAgentID = &agentID
	}
	rows, err := s.store.ListConversations(ctx, find)
	if err != nil {
		return nil, err
	}
	out := make([]Conversation, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

// MarkRead resets the unread counter and tells connected sessions.
func (s *Service) MarkRead(ctx context.Context, id string) (Conversation, error) {
	c, err := s.update(ctx, &store.UpdateConversation{ID: id, ResetUnread: true})
	if err != nil {
		return Conversation{}, err
	}
	event.Emit(s.publisher, s.logger, event.EventTypeChatRead, id, event.ChatReadPayload{ConversationID: id})
	return c, nil
}

// Hide removes the conversation from the default listing until the contact
// writes again.
func (s *Service) Hide(ctx context.Context, id string) (Conversation, error) {
	visible := false
	return s.update(ctx, &store.UpdateConversation{ID: id, Visible: &visible})
}

func (s *Service) Archive(ctx context.Context, id string) (Conversation, error) {
	archived := true
	return s.update(ctx, &store.UpdateConversation{ID: id, Archived: &archived})
}

func (s *Service) Unarchive(ctx context.Context, id string) (Conversation, error) {
	archived := false
	return s.update(ctx, &store.UpdateConversation{ID: id, Archived: &archived})
}

func (s *Service) update(ctx context.Context, update *store.UpdateConversation) (Conversation, error) {
	if strings.TrimSpace(update.ID) == "" {
		return Conversation{}, ErrInvalidID
	}
	update.UpdatedAt = s.now()
	row, err := s.store.UpdateConversation(ctx, update)
	if err != nil {
		return Conversation{}, mapErr(err)
	}
	return fromRow(row), nil
}

// Delete drops the metadata row. Stored messages stay, and the next inbound
// message recreates the conversation.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteConversation(ctx, id); err != nil {
		return mapErr(err)
	}
	s.logger.Info("conversation deleted", slog.String("conversation_id", id))
	return nil
}

// Assign sets the assignee unconditionally. An empty agentID releases the
// conversation.
func (s *Service) Assign(ctx context.Context, id, agentID string) (Conversation, error) {
	ok, err := s.store.AssignConversation(ctx, &store.AssignConversation{
		ID:         id,
		AgentID:    strings.TrimSpace(agentID),
		AssignedAt: s.now(),
	})
	if err != nil {
		return Conversation{}, err
	}
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

// AssignIfUnassigned writes agentID only while nobody owns the conversation
// and reports whether this call won.
func (s *Service) AssignIfUnassigned(ctx context.Context, id, agentID string) (bool, error) {
	if strings.TrimSpace(agentID) == "" {
		return false, ErrAgentRequired
	}
	ok, err := s.store.AssignConversation(ctx, &store.AssignConversation{
		ID:               id,
		AgentID:          agentID,
		AssignedAt:       s.now(),
		OnlyIfUnassigned: true,
	})
	if err != nil {
		return false, fmt.Errorf("assign conversation %s: %w", id, err)
	}
	return ok, nil
}

func mapErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func fromRow(row *store.Conversation) Conversation {
	return Conversation{
		ID:              row.ID,
		DisplayName:     row.DisplayName,
		UnreadCount:     row.UnreadCount,
		AssignedAgentID: row.AssignedAgentID,
		AssignedAt:      row.AssignedAt,
		LastMessageAt:   row.LastMessageAt,
		Visible:         row.Visible,
		ArchivedAt:      row.ArchivedAt,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}
