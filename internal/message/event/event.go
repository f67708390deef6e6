package event

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// EventType names a real-time update pushed to UI sessions.
type EventType string

const (
	EventTypeMessageNew    EventType = "message.new"
	EventTypeMessageStatus EventType = "message.status"
	EventTypeMessageReact  EventType = "message.react"
	EventTypeChatRead      EventType = "chat.read"
)

// Event is one update. Data holds the JSON payload.
type Event struct {
	Type           EventType       `json:"type"`
	ConversationID string          `json:"conversation_id"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// Publisher fans events out. Publish must never block or fail the caller.
type Publisher interface {
	Publish(event Event)
}

// Subscriber registers listeners. An empty conversationID receives every
// event.
type Subscriber interface {
	Subscribe(conversationID string, buffer int) (string, <-chan Event, func())
}

type subscription struct {
	conversationID string
	ch             chan Event
}

// Hub is an in-process Publisher and Subscriber.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	logger *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		subs:   map[string]*subscription{},
		logger: log.With(slog.String("service", "event_hub")),
	}
}

func (h *Hub) Subscribe(conversationID string, buffer int) (string, <-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	id := uuid.NewString()
	sub := &subscription{
		conversationID: strings.TrimSpace(conversationID),
		ch:             make(chan Event, buffer),
	}
	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return id, sub.ch, cancel
}

// Publish delivers without blocking; a full subscriber buffer drops the event
// for that subscriber only.
func (h *Hub) Publish(event Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("publish panicked", slog.Any("panic", r), slog.String("type", string(event.Type)))
		}
	}()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, sub := range h.subs {
		if sub.conversationID != "" && sub.conversationID != event.ConversationID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.logger.Warn("subscriber buffer full, dropping event",
				slog.String("subscriber", id),
				slog.String("type", string(event.Type)),
			)
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
