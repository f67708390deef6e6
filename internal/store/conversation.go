package store

import "time"

type Conversation struct {
	ID              string
	DisplayName     string
	UnreadCount     int
	AssignedAgentID string
	AssignedAt      *time.Time
	LastMessageAt   *time.Time
	Visible         bool
	ArchivedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TouchConversation upserts a conversation for new message activity.
type TouchConversation struct {
	ID            string
	DisplayName   string
	LastMessageAt time.Time
	// Inbound increments the unread counter and un-hides the conversation.
	Inbound bool
}

type FindConversation struct {
	IncludeHidden   bool
	IncludeArchived bool
	AssignedAgentID *string
	Unassigned      bool
	Limit           int
}

type UpdateConversation struct {
	ID          string
	ResetUnread bool
	Visible     *bool
	Archived    *bool
	UpdatedAt   time.Time
}

// AssignConversation sets or clears the assignee. With OnlyIfUnassigned the
// write happens only while no agent is assigned.
type AssignConversation struct {
	ID               string
	AgentID          string
	AssignedAt       time.Time
	OnlyIfUnassigned bool
}
