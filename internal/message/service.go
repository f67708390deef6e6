package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/wadesk/internal/message/event"
	"github.com/memohai/wadesk/internal/store"
)

// ErrNotFound is returned for unknown or not yet materialized messages.
var ErrNotFound = errors.New("message not found")

// AuthorSelf is the quote author recorded for our own messages.
const AuthorSelf = "me"

const (
	// DefaultPageSize and MaxPageSize bound ListBefore.
	DefaultPageSize = 30
	MaxPageSize     = 100
)

// Store is the subset of store.Driver used by the message service.
type Store interface {
	MutateMessage(ctx context.Context, key store.MessageKey, fn store.MutateFunc) (*store.MessageMutation, error)
	GetMessage(ctx context.Context, key store.MessageKey) (*store.Message, error)
	ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error)
}

// DBService persists normalized messages. Every write is an upsert keyed by
// (conversation id, provider message id).
type DBService struct {
	store     Store
	policy    StatusPolicy
	logger    *slog.Logger
	publisher event.Publisher
}

// NewService creates a message service.
// A nil publisher disables event pushes.
func NewService(log *slog.Logger, st Store, policy StatusPolicy, publisher event.Publisher) *DBService {
	if log == nil {
		log = slog.Default()
	}
	if policy == "" {
		policy = PolicyMonotonic
	}
	return &DBService{
		store:     st,
		policy:    policy,
		logger:    log.With(slog.String("service", "message")),
		publisher: publisher,
	}
}

// Ingest stores an inbound message. Redelivery of a stored message changes
// nothing and reports created=false. A stub left by an early receipt or
// reaction is filled in and counts as created.
func (s *DBService) Ingest(ctx context.Context, input InboundInput) (Message, bool, error) {
	if err := validateKey(input.ConversationID, input.ProviderMessageID); err != nil {
		return Message{}, false, err
	}
	if input.Content == nil {
		return Message{}, false, errors.New("content is required")
	}
	content, err := EncodeContent(input.Content)
	if err != nil {
		return Message{}, false, fmt.Errorf("encode content: %w", err)
	}
	quoted, err := encodeQuoted(s.ResolveQuote(ctx, input.ConversationID, input.QuotedID))
	if err != nil {
		return Message{}, false, err
	}

	key := store.MessageKey{ConversationID: input.ConversationID, ProviderMessageID: input.ProviderMessageID}
	res, err := s.store.MutateMessage(ctx, key, func(current *store.Message) (*store.Message, error) {
		if current != nil && !current.Stub {
			return nil, nil
		}
		next := current
		if next == nil {
			next = &store.Message{}
		}
		next.Direction = string(DirectionInbound)
		next.ContentType = string(input.Content.Type())
		next.Content = content
		next.Quoted = quoted
		next.SenderDisplayName = input.SenderDisplayName
		next.OccurredAt = input.OccurredAt.Unix()
		next.DeliveryStatus = string(StatusNone)
		next.Stub = false
		return next, nil
	})
	if err != nil {
		return Message{}, false, fmt.Errorf("ingest message: %w", err)
	}
	created := materialized(res)
	msg, err := toMessage(res.Message)
	if err != nil {
		return Message{}, false, err
	}
	if created {
		s.publishMessageNew(msg)
	}
	return msg, created, nil
}

// RecordOutbound writes the optimistic row for a message the provider just
// accepted. A receipt that raced ahead of this write keeps its status.
func (s *DBService) RecordOutbound(ctx context.Context, input OutboundInput) (Message, bool, error) {
	if err := validateKey(input.ConversationID, input.ProviderMessageID); err != nil {
		return Message{}, false, err
	}
	if input.Content == nil {
		return Message{}, false, errors.New("content is required")
	}
	content, err := EncodeContent(input.Content)
	if err != nil {
		return Message{}, false, fmt.Errorf("encode content: %w", err)
	}
	quoted, err := encodeQuoted(s.ResolveQuote(ctx, input.ConversationID, input.QuotedID))
	if err != nil {
		return Message{}, false, err
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	key := store.MessageKey{ConversationID: input.ConversationID, ProviderMessageID: input.ProviderMessageID}
	res, err := s.store.MutateMessage(ctx, key, func(current *store.Message) (*store.Message, error) {
		if current != nil && !current.Stub {
			return nil, nil
		}
		next := current
		if next == nil {
			next = &store.Message{}
		}
		next.Direction = string(DirectionOutbound)
		next.ContentType = string(input.Content.Type())
		next.Content = content
		next.Quoted = quoted
		next.SenderDisplayName = ""
		next.OccurredAt = occurredAt.Unix()
		if DeliveryStatus(next.DeliveryStatus).Rank() < StatusSent.Rank() {
			next.DeliveryStatus = string(StatusSent)
		}
		next.Stub = false
		return next, nil
	})
	if err != nil {
		return Message{}, false, fmt.Errorf("record outbound message: %w", err)
	}
	created := materialized(res)
	msg, err := toMessage(res.Message)
	if err != nil {
		return Message{}, false, err
	}
	if created {
		s.publishMessageNew(msg)
	}
	return msg, created, nil
}

// ApplyReaction folds a reaction into its target. When the target has not
// arrived yet the reaction waits on a stub row.
func (s *DBService) ApplyReaction(ctx context.Context, input ReactionInput) (Message, bool, error) {
	if err := validateKey(input.ConversationID, input.TargetID); err != nil {
		return Message{}, false, err
	}
	if strings.TrimSpace(input.By) == "" {
		return Message{}, false, errors.New("reaction author is required")
	}
	reaction := Reaction{Emoji: input.Emoji, Direction: input.Direction, By: input.By}

	key := store.MessageKey{ConversationID: input.ConversationID, ProviderMessageID: input.TargetID}
	res, err := s.store.MutateMessage(ctx, key, func(current *store.Message) (*store.Message, error) {
		next := current
		if next == nil {
			if reaction.Emoji == "" {
				return nil, nil
			}
			next = newStub(input.Direction.Opposite(), input.OccurredAt)
		}
		list, err := decodeReactions(next.Reactions)
		if err != nil {
			return nil, err
		}
		folded, changed := FoldReaction(list, reaction)
		if !changed {
			return nil, nil
		}
		raw, err := encodeReactions(folded)
		if err != nil {
			return nil, err
		}
		next.Reactions = raw
		return next, nil
	})
	if err != nil {
		return Message{}, false, fmt.Errorf("apply reaction: %w", err)
	}
	if res.Message == nil {
		return Message{}, false, nil
	}
	msg, err := toMessage(res.Message)
	if err != nil {
		return Message{}, false, err
	}
	if res.Changed && !res.Message.Stub {
		event.Emit(s.publisher, s.logger, event.EventTypeMessageReact, input.ConversationID, event.MessageReactPayload{
			ConversationID: input.ConversationID,
			ID:             input.TargetID,
			Emoji:          input.Emoji,
			Direction:      string(input.Direction),
			By:             input.By,
		})
	}
	return msg, res.Changed && !res.Message.Stub, nil
}

// ApplyStatus applies a delivery receipt according to the status policy.
// Receipts for messages we have not recorded yet are parked on a stub row.
func (s *DBService) ApplyStatus(ctx context.Context, input StatusInput) (Message, bool, error) {
	if err := validateKey(input.ConversationID, input.ProviderMessageID); err != nil {
		return Message{}, false, err
	}
	if input.Status.Rank() == 0 {
		return Message{}, false, fmt.Errorf("invalid delivery status %q", input.Status)
	}

	key := store.MessageKey{ConversationID: input.ConversationID, ProviderMessageID: input.ProviderMessageID}
	res, err := s.store.MutateMessage(ctx, key, func(current *store.Message) (*store.Message, error) {
		next := current
		if next == nil {
			next = newStub(DirectionOutbound, input.OccurredAt)
		} else if next.Direction == string(DirectionInbound) {
			return nil, nil
		}
		status, changed := s.policy.Next(DeliveryStatus(next.DeliveryStatus), input.Status)
		if !changed && current != nil {
			return nil, nil
		}
		next.DeliveryStatus = string(status)
		return next, nil
	})
	if err != nil {
		return Message{}, false, fmt.Errorf("apply status: %w", err)
	}
	if res.Message == nil {
		return Message{}, false, nil
	}
	msg, err := toMessage(res.Message)
	if err != nil {
		return Message{}, false, err
	}
	changed := res.Changed && !res.Message.Stub
	if !res.Changed && res.Previous != nil && res.Previous.Direction == string(DirectionInbound) {
		s.logger.Debug("ignoring receipt for inbound message",
			slog.String("conversation_id", input.ConversationID),
			slog.String("message_id", input.ProviderMessageID),
		)
	}
	if changed {
		event.Emit(s.publisher, s.logger, event.EventTypeMessageStatus, input.ConversationID, event.MessageStatusPayload{
			ConversationID: input.ConversationID,
			ID:             input.ProviderMessageID,
			Status:         string(msg.DeliveryStatus),
		})
	}
	return msg, changed, nil
}

// ResolveQuote builds the cached quote for quotedID. Lookup only searches the
// same conversation. A missing target yields the bare id; lookup errors never
// fail the caller.
func (s *DBService) ResolveQuote(ctx context.Context, conversationID, quotedID string) *Quoted {
	quotedID = strings.TrimSpace(quotedID)
	if quotedID == "" {
		return nil
	}
	quoted := &Quoted{ID: quotedID}
	row, err := s.store.GetMessage(ctx, store.MessageKey{ConversationID: conversationID, ProviderMessageID: quotedID})
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("resolve quote failed", slog.String("quoted_id", quotedID), slog.Any("error", err))
		}
		return quoted
	}
	if row.Stub {
		return quoted
	}
	target, err := toMessage(row)
	if err != nil {
		s.logger.Warn("decode quoted message failed", slog.String("quoted_id", quotedID), slog.Any("error", err))
		return quoted
	}
	preview := Preview(target.Content)
	author := quoteAuthor(target)
	quoted.Preview = &preview
	quoted.Author = &author
	return quoted
}

func (s *DBService) Get(ctx context.Context, conversationID, providerMessageID string) (Message, error) {
	row, err := s.store.GetMessage(ctx, store.MessageKey{ConversationID: conversationID, ProviderMessageID: providerMessageID})
	if errors.Is(err, store.ErrNotFound) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}
	if row.Stub {
		return Message{}, ErrNotFound
	}
	return toMessage(row)
}

// ListBefore returns up to limit messages older than beforeID, newest first.
// An empty beforeID starts from the latest message.
func (s *DBService) ListBefore(ctx context.Context, conversationID, beforeID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	find := &store.FindMessage{ConversationID: conversationID, Limit: limit}
	if beforeID = strings.TrimSpace(beforeID); beforeID != "" {
		anchor, err := s.store.GetMessage(ctx, store.MessageKey{ConversationID: conversationID, ProviderMessageID: beforeID})
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		find.Before = &store.MessageCursor{OccurredAt: anchor.OccurredAt, Seq: anchor.Seq}
	}
	rows, err := s.store.ListMessages(ctx, find)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(rows))
	for _, row := range rows {
		msg, err := toMessage(row)
		if err != nil {
			s.logger.Warn("skip undecodable message", slog.String("message_id", row.ProviderMessageID), slog.Any("error", err))
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *DBService) publishMessageNew(msg Message) {
	event.Emit(s.publisher, s.logger, event.EventTypeMessageNew, msg.ConversationID, event.MessageNewPayload{
		ConversationID: msg.ConversationID,
		Message:        msg,
	})
}

// materialized reports whether the mutation made a message visible for the
// first time.
func materialized(res *store.MessageMutation) bool {
	if !res.Changed {
		return false
	}
	return res.Previous == nil || res.Previous.Stub
}

func quoteAuthor(m Message) string {
	if m.Direction == DirectionOutbound {
		return AuthorSelf
	}
	if m.SenderDisplayName != "" {
		return m.SenderDisplayName
	}
	if i := strings.IndexByte(m.ConversationID, '@'); i > 0 {
		return m.ConversationID[:i]
	}
	return m.ConversationID
}

func newStub(direction Direction, occurredAt time.Time) *store.Message {
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	return &store.Message{
		Direction:  string(direction),
		OccurredAt: occurredAt.Unix(),
		Stub:       true,
	}
}

func validateKey(conversationID, providerMessageID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("conversation id is required")
	}
	if strings.TrimSpace(providerMessageID) == "" {
		return errors.New("provider message id is required")
	}
	return nil
}

func encodeQuoted(q *Quoted) ([]byte, error) {
	if q == nil {
		return nil, nil
	}
	raw, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode quoted: %w", err)
	}
	return raw, nil
}

func decodeReactions(raw []byte) ([]Reaction, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var list []Reaction
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode reactions: %w", err)
	}
	return list, nil
}

func encodeReactions(list []Reaction) ([]byte, error) {
	if len(list) == 0 {
		return []byte("[]"), nil
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("encode reactions: %w", err)
	}
	return raw, nil
}

func toMessage(row *store.Message) (Message, error) {
	content, err := DecodeContent(row.Content)
	if err != nil {
		return Message{}, fmt.Errorf("decode content: %w", err)
	}
	var quoted *Quoted
	if len(row.Quoted) > 0 && string(row.Quoted) != "null" {
		quoted = &Quoted{}
		if err := json.Unmarshal(row.Quoted, quoted); err != nil {
			return Message{}, fmt.Errorf("decode quoted: %w", err)
		}
	}
	reactions, err := decodeReactions(row.Reactions)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ConversationID:    row.ConversationID,
		ProviderMessageID: row.ProviderMessageID,
		Direction:         Direction(row.Direction),
		Content:           content,
		Quoted:            quoted,
		Reactions:         reactions,
		SenderDisplayName: row.SenderDisplayName,
		OccurredAt:        time.Unix(row.OccurredAt, 0).UTC(),
		DeliveryStatus:    DeliveryStatus(row.DeliveryStatus),
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}, nil
}
