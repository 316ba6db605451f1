// ABOUTME: Freshchat webhook payload shapes and action tags.
// ABOUTME: Mirrors the subset of the webhook envelope the dispatcher reads.

package webhook

import (
	"strings"
	"time"
)

// Actions the dispatcher handles. Any other action is acknowledged and
// ignored.
const (
	ActionMessageCreate          = "message_create"
	ActionConversationAssignment = "conversation_assignment"
	ActionConversationResolution = "conversation_resolution"
)

// Payload is the webhook envelope Freshchat POSTs for every event.
type Payload struct {
	Actor      PayloadActor `json:"actor"`
	Action     string       `json:"action"`
	ActionTime time.Time    `json:"action_time"`
	Data       PayloadData  `json:"data"`
}

// PayloadActor says who caused the event: an end user or an agent.
type PayloadActor struct {
	ActorType string `json:"actor_type"`
	ActorID   string `json:"actor_id"`
}

// PayloadData carries the action-specific body. Only the field matching the
// action is populated.
type PayloadData struct {
	Message    *EventMessage    `json:"message,omitempty"`
	Assignment *EventAssignment `json:"assignment,omitempty"`
	Resolution *EventResolution `json:"resolve,omitempty"`
}

// EventMessage is the message_create body.
type EventMessage struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	ChannelID      string        `json:"channel_id"`
	UserID         string        `json:"user_id"`
	CreatedTime    time.Time     `json:"created_time"`
	MessageParts   []MessagePart `json:"message_parts"`
}

// MessagePart is one fragment of a message body.
type MessagePart struct {
	Text *PartText `json:"text,omitempty"`
}

// PartText is the textual content of a message part.
type PartText struct {
	Content string `json:"content"`
}

// CombinedText joins the textual parts of a message, skipping non-text
// fragments such as images.
func (m *EventMessage) CombinedText() string {
	var parts []string
	for _, p := range m.MessageParts {
		if p.Text != nil && p.Text.Content != "" {
			parts = append(parts, p.Text.Content)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// EventAssignment is the conversation_assignment body.
type EventAssignment struct {
	Conversation AssignmentConversation `json:"conversation"`
}

// AssignmentConversation carries the new owner of a conversation.
type AssignmentConversation struct {
	ConversationID  string `json:"conversation_id"`
	AssignedAgentID string `json:"assigned_agent_id"`
}

// EventResolution is the conversation_resolution body.
type EventResolution struct {
	Conversation ResolutionConversation `json:"conversation"`
}

// ResolutionConversation carries the new lifecycle status of a conversation.
type ResolutionConversation struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
}

// Resolved reports whether the status marks the conversation closed.
func (r *EventResolution) Resolved() bool {
	return r.Conversation.Status == "resolved"
}
