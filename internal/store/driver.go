package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Driver is implemented by every database backend.
type Driver interface {
	Close() error

	// Message model related methods.
	MutateMessage(ctx context.Context, key MessageKey, fn MutateFunc) (*MessageMutation, error)
	GetMessage(ctx context.Context, key MessageKey) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)

	// Conversation model related methods.
	TouchConversation(ctx context.Context, touch *TouchConversation) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error)
	AssignConversation(ctx context.Context, assign *AssignConversation) (bool, error)
	DeleteConversation(ctx context.Context, id string) error

	// Agent model related methods.
	CreateAgent(ctx context.Context, create *Agent) (*Agent, error)
	GetAgent(ctx context.Context, find *FindAgent) (*Agent, error)
	ListAgents(ctx context.Context, find *FindAgent) ([]*Agent, error)
	DeleteAgent(ctx context.Context, id string) error

	// AdvanceCursor atomically moves the rotation cursor for key one step
	// forward modulo n and returns the new index. A missing cursor behaves as
	// if it held -1, so the first call returns 0.
	AdvanceCursor(ctx context.Context, key string, n int) (int, error)

	// Setting model related methods.
	GetSetting(ctx context.Context, key string) (string, error)
	UpsertSetting(ctx context.Context, key, value string) error
}
