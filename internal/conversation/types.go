package conversation

import (
	"encoding/json"
	"strings"
	"time"
)

// Conversation is the per-contact summary shown in the inbox.
type Conversation struct {
	ID              string     `json:"id"`
	DisplayName     string     `json:"display_name"`
	UnreadCount     int        `json:"unread_count"`
	AssignedAgentID string     `json:"assigned_agent_id"`
	AssignedAt      *time.Time `json:"assigned_at"`
	LastMessageAt   *time.Time `json:"last_message_at"`
	Visible         bool       `json:"visible"`
	ArchivedAt      *time.Time `json:"archived_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Phone returns the contact number carried in the conversation id.
func (c Conversation) Phone() string {
	if i := strings.IndexByte(c.ID, '@'); i > 0 {
		return c.ID[:i]
	}
	return c.ID
}

// Assigned reports whether an agent owns the conversation.
func (c Conversation) Assigned() bool {
	return c.AssignedAgentID != ""
}

func (c Conversation) MarshalJSON() ([]byte, error) {
	type alias Conversation
	out := struct {
		alias
		Phone           string  `json:"phone"`
		AssignedAgentID *string `json:"assigned_agent_id"`
		Archived        bool    `json:"archived"`
	}{
		alias:    alias(c),
		Phone:    c.Phone(),
		Archived: c.ArchivedAt != nil,
	}
	if c.AssignedAgentID != "" {
		id := c.AssignedAgentID
		out.AssignedAgentID = &id
	}
	return json.Marshal(out)
}

// ListFilter narrows the inbox listing. Hidden and archived conversations
// are excluded unless asked for.
type ListFilter struct {
	IncludeHidden   bool
	IncludeArchived bool
	AssignedAgentID string
	Unassigned      bool
	Limit           int
}
