// Package conversation owns conversation identity, its agent state and the counters
// the inbox reads (last activity, unread count, human-attention flag).
package conversation

import (
	"strings"
	"time"
)

// Agent is who currently owns a conversation's replies.
type Agent string

const (
	AgentBot      Agent = "bot"
	AgentOperator Agent = "operator"
)

// ParseAgent maps stored values to an Agent; empty or unknown reads as AgentBot.
func ParseAgent(raw string) Agent {
	if strings.EqualFold(strings.TrimSpace(raw), string(AgentOperator)) {
		return AgentOperator
	}
	return AgentBot
}

// Conversation statuses.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Conversation is one contact's thread with an organization on one platform.
type Conversation struct {
	ID                     string     `json:"id"`
	OrganizationID         string     `json:"organization_id"`
	Platform               string     `json:"platform"`
	ContactID              string     `json:"contact_id"`
	ContactName            string     `json:"contact_name"`
	Status                 string     `json:"status"`
	ActiveAgent            Agent      `json:"active_agent"`
	AssigneeID             string     `json:"assignee_id,omitempty"`
	LastMessageAt          time.Time  `json:"last_message_at"`
	UnreadCount            int        `json:"unread_count"`
	Tags                   []string   `json:"tags"`
	HumanAttentionRequired bool       `json:"human_attention_required"`
	HumanAttentionReason   string     `json:"human_attention_reason,omitempty"`
	HumanAttentionAt       *time.Time `json:"human_attention_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// HasAssignee reports whether an operator is assigned.
func (c Conversation) HasAssignee() bool {
	return strings.TrimSpace(c.AssigneeID) != ""
}

// Identity is the unique key of a conversation.
type Identity struct {
	OrganizationID string
	Platform       string
	ContactID      string
}

// ResolveInput identifies the conversation an inbound message belongs to.
type ResolveInput struct {
	OrganizationID string
	Platform       string
	ContactID      string
	ContactName    string
}

// Identity returns the unique key of the input.
func (in ResolveInput) Identity() Identity {
	return Identity{
		OrganizationID: strings.TrimSpace(in.OrganizationID),
		Platform:       strings.TrimSpace(strings.ToLower(in.Platform)),
		ContactID:      strings.TrimSpace(in.ContactID),
	}
}

// ResolveResult is the resolved conversation and whether this call created it.
type ResolveResult struct {
	Conversation Conversation
	Created      bool
}
