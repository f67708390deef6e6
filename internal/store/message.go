package store

import "time"

// MessageKey identifies a message: provider ids are only unique inside a
// conversation.
type MessageKey struct {
	ConversationID    string
	ProviderMessageID string
}

// Message is the stored row. Content, Quoted and Reactions hold JSON owned by
// the message package.
type Message struct {
	Seq               int64
	ConversationID    string
	ProviderMessageID string
	Direction         string
	ContentType       string
	Content           []byte
	Quoted            []byte
	Reactions         []byte
	SenderDisplayName string
	OccurredAt        int64
	DeliveryStatus    string
	Stub              bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (m *Message) Key() MessageKey {
	return MessageKey{ConversationID: m.ConversationID, ProviderMessageID: m.ProviderMessageID}
}

// Clone returns a deep copy so mutate callbacks never alias stored slices.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Content = cloneBytes(m.Content)
	c.Quoted = cloneBytes(m.Quoted)
	c.Reactions = cloneBytes(m.Reactions)
	return &c
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// MutateFunc receives the current row (nil when absent) and returns the row to
// persist, or nil to leave storage untouched. It runs inside the driver's
// transaction and must not call back into the driver.
type MutateFunc func(current *Message) (*Message, error)

// MessageMutation reports the outcome of MutateMessage.
type MessageMutation struct {
	// Message is the row as stored after the call.
	Message *Message
	// Previous is the row before the call, nil when it did not exist.
	Previous *Message
	// Inserted is true when a new row was written.
	Inserted bool
	// Changed is true when anything was written.
	Changed bool
}

// MessageCursor positions a page boundary by (occurred_at, seq).
type MessageCursor struct {
	OccurredAt int64
	Seq        int64
}

type FindMessage struct {
	ConversationID string
	Before         *MessageCursor
	// Limit is required; rows are returned newest first.
	Limit       int
	IncludeStub bool
}
