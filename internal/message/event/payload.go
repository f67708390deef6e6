package event

import (
	"encoding/json"
	"log/slog"
)

type MessageNewPayload struct {
	ConversationID string `json:"conversation_id"`
	Message        any    `json:"message"`
}

type MessageStatusPayload struct {
	ConversationID string `json:"conversation_id"`
	ID             string `json:"id"`
	Status         string `json:"status"`
}

type MessageReactPayload struct {
	ConversationID string `json:"conversation_id"`
	ID             string `json:"id"`
	Emoji          string `json:"emoji"`
	Direction      string `json:"direction"`
	By             string `json:"by"`
}

type ChatReadPayload struct {
	ConversationID string `json:"conversation_id"`
}

// Emit encodes payload and publishes it. Encoding errors are logged, never
// returned, since pushes are best effort.
func Emit(pub Publisher, log *slog.Logger, typ EventType, conversationID string, payload any) {
	if pub == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		if log != nil {
			log.Warn("encode event failed", slog.String("type", string(typ)), slog.Any("error", err))
		}
		return
	}
	pub.Publish(Event{Type: typ, ConversationID: conversationID, Data: data})
}
