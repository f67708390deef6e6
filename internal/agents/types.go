package agents

import "time"

// Agent is a human operator who can be assigned conversations.
type Agent struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateAgentRequest is the input for creating an agent.
type CreateAgentRequest struct {
	Username    string `json:"username" validate:"required,min=2,max=64"`
	DisplayName string `json:"display_name,omitempty" validate:"max=128"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	Active      *bool  `json:"active,omitempty"`
}

type ListAgentsResponse struct {
	Items []Agent `json:"items"`
}
