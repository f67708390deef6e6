package message

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Direction tells whether a message came from the contact or from us.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Opposite returns the other direction. A contact reacts to our messages and
// we react to theirs.
func (d Direction) Opposite() Direction {
	if d == DirectionInbound {
		return DirectionOutbound
	}
	return DirectionInbound
}

// DeliveryStatus tracks outbound delivery. Empty means no tracking (inbound).
type DeliveryStatus string

const (
	StatusNone      DeliveryStatus = ""
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

// Rank orders statuses: none < sent < delivered < read.
func (s DeliveryStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// ParseDeliveryStatus accepts the provider status names this engine stores.
func ParseDeliveryStatus(s string) (DeliveryStatus, bool) {
	switch DeliveryStatus(s) {
	case StatusSent, StatusDelivered, StatusRead:
		return DeliveryStatus(s), true
	default:
		return StatusNone, false
	}
}

// Quoted is a reply reference cached by value at normalization time.
// Preview and Author are nil when the quoted message was not found.
type Quoted struct {
	ID      string  `json:"id"`
	Preview *string `json:"preview"`
	Author  *string `json:"author"`
}

// Reaction is one active reaction. At most one exists per (By, Direction).
type Reaction struct {
	Emoji     string    `json:"emoji"`
	Direction Direction `json:"direction"`
	By        string    `json:"by"`
}

// Message is a normalized conversation entry.
type Message struct {
	ConversationID    string
	ProviderMessageID string
	Direction         Direction
	Content           Content
	Quoted            *Quoted
	Reactions         []Reaction
	SenderDisplayName string
	OccurredAt        time.Time
	DeliveryStatus    DeliveryStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type messageJSON struct {
	ConversationID    string          `json:"conversation_id"`
	ID                string          `json:"id"`
	Direction         Direction       `json:"direction"`
	Content           json.RawMessage `json:"content"`
	Quoted            *Quoted         `json:"quoted"`
	Reactions         []Reaction      `json:"reactions"`
	SenderDisplayName *string         `json:"sender_display_name"`
	OccurredAt        int64           `json:"occurred_at"`
	DeliveryStatus    *DeliveryStatus `json:"delivery_status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// MarshalJSON renders occurred_at as epoch seconds and empty optional fields
// as null.
func (m Message) MarshalJSON() ([]byte, error) {
	var content json.RawMessage
	if m.Content != nil {
		raw, err := EncodeContent(m.Content)
		if err != nil {
			return nil, err
		}
		content = raw
	}
	out := messageJSON{
		ConversationID: m.ConversationID,
		ID:             m.ProviderMessageID,
		Direction:      m.Direction,
		Content:        content,
		Quoted:         m.Quoted,
		Reactions:      m.Reactions,
		OccurredAt:     m.OccurredAt.Unix(),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if out.Content == nil {
		out.Content = json.RawMessage("null")
	}
	if out.Reactions == nil {
		out.Reactions = []Reaction{}
	}
	if m.SenderDisplayName != "" {
		name := m.SenderDisplayName
		out.SenderDisplayName = &name
	}
	if m.DeliveryStatus != StatusNone {
		status := m.DeliveryStatus
		out.DeliveryStatus = &status
	}
	return json.Marshal(out)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	content, err := DecodeContent(in.Content)
	if err != nil {
		return fmt.Errorf("decode content: %w", err)
	}
	*m = Message{
		ConversationID:    in.ConversationID,
		ProviderMessageID: in.ID,
		Direction:         in.Direction,
		Content:           content,
		Quoted:            in.Quoted,
		Reactions:         in.Reactions,
		OccurredAt:        time.Unix(in.OccurredAt, 0).UTC(),
		CreatedAt:         in.CreatedAt,
		UpdatedAt:         in.UpdatedAt,
	}
	if in.SenderDisplayName != nil {
		m.SenderDisplayName = *in.SenderDisplayName
	}
	if in.DeliveryStatus != nil {
		m.DeliveryStatus = *in.DeliveryStatus
	}
	return nil
}

// InboundInput is one normalized provider message.
type InboundInput struct {
	ConversationID    string
	ProviderMessageID string
	Content           Content
	QuotedID          string
	SenderDisplayName string
	OccurredAt        time.Time
}

// OutboundInput records a message we just sent.
type OutboundInput struct {
	ConversationID    string
	ProviderMessageID string
	Content           Content
	QuotedID          string
	OccurredAt        time.Time
}

// ReactionInput folds a reaction into its target message. An empty Emoji
// removes the reaction of (By, Direction).
type ReactionInput struct {
	ConversationID string
	TargetID       string
	Emoji          string
	Direction      Direction
	By             string
	OccurredAt     time.Time
}

// StatusInput is one provider delivery receipt.
type StatusInput struct {
	ConversationID    string
	ProviderMessageID string
	Status            DeliveryStatus
	OccurredAt        time.Time
}

// Writer is what ingestion and sending need.
type Writer interface {
	Ingest(ctx context.Context, input InboundInput) (Message, bool, error)
	RecordOutbound(ctx context.Context, input OutboundInput) (Message, bool, error)
	ApplyReaction(ctx context.Context, input ReactionInput) (Message, bool, error)
	ApplyStatus(ctx context.Context, input StatusInput) (Message, bool, error)
}

// Reader serves the internal API.
type Reader interface {
	Get(ctx context.Context, conversationID, providerMessageID string) (Message, error)
	ListBefore(ctx context.Context, conversationID, beforeID string, limit int) ([]Message, error)
}
