// ABOUTME: Shared domain types for chat events flowing through the gateway.
// ABOUTME: Defines the actor, inbound message, and enriched delivery payload shapes.

package chat

import (
	"time"

	"github.com/flalingo/flamingo/internal/analysis"
)

// Actor identifies the end user who authored a message.
type Actor struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Message is a single inbound chat message built from one webhook delivery.
// Immutable once built, except for AssignedAgentID which the dispatcher may
// stamp retroactively while the message sits in a coalescing buffer.
type Message struct {
	ID                     string    `json:"id"`
	ConversationID         string    `json:"conversation_id"`
	ExternalConversationID string    `json:"freshchat_conversation_id,omitempty"`
	Text                   string    `json:"message"`
	CreatedAt              time.Time `json:"created_at"`
	Actor                  Actor     `json:"user"`
	SubscriptionID         string    `json:"cf_subscription_id,omitempty"`
	StudentID              string    `json:"cf_student_id,omitempty"`
	AssignedAgentID        string    `json:"assigned_agent_id,omitempty"`
}

// Enriched is the unit handed to persistence and delivery after a flush: the
// first message of a coalesced batch carrying the combined batch text and the
// analysis result.
type Enriched struct {
	Message
	Analysis analysis.Result `json:"analysis"`
}
