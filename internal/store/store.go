// ABOUTME: Store interface and data types for conversation persistence
// ABOUTME: Defines the Conversation and Detail records plus the idempotent insert contract

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested conversation does not exist
var ErrNotFound = errors.New("conversation not found")

// ErrConversationExists is returned by InsertIfAbsent when a record for the
// conversation id is already present. Callers treat this as success so that
// duplicate-flush races stay silent.
var ErrConversationExists = errors.New("conversation already recorded")

// Conversation is the single deduplicated record kept per conversation id.
// It carries the first flushed batch's combined text and analysis.
type Conversation struct {
	MessageID              string    `json:"id"`
	ConversationID         string    `json:"conversation_id"`
	ExternalConversationID string    `json:"freshchat_conversation_id,omitempty"`
	Text                   string    `json:"message"`
	CreatedAt              time.Time `json:"created_at"`
	UserID                 string    `json:"user_id,omitempty"`
	UserName               string    `json:"user_name,omitempty"`
	UserEmail              string    `json:"user_email,omitempty"`
	StateOfEmotion         string    `json:"state_of_emotion,omitempty"`
	UserTone               string    `json:"user_tone,omitempty"`
	PriorityLevel          string    `json:"priority_level,omitempty"`
	EmojiSuggestion        string    `json:"emoji_suggestion,omitempty"`
	SubscriptionID         string    `json:"cf_subscription_id,omitempty"`
	StudentID              string    `json:"cf_student_id,omitempty"`
	AssignedAgentID        string    `json:"assigned_agent_id,omitempty"`
	Resolved               bool      `json:"is_resolved"`
}

// Detail is one appended record for a follow-up flush on an already-recorded
// conversation. Keyed by the batch's first message id.
type Detail struct {
	MessageID       string    `json:"message_id"`
	ConversationID  string    `json:"conversation_id"`
	Text            string    `json:"message"`
	CreatedAt       time.Time `json:"created_at"`
	UserID          string    `json:"user_id,omitempty"`
	UserName        string    `json:"user_name,omitempty"`
	UserEmail       string    `json:"user_email,omitempty"`
	StateOfEmotion  string    `json:"state_of_emotion,omitempty"`
	UserTone        string    `json:"user_tone,omitempty"`
	PriorityLevel   string    `json:"priority_level,omitempty"`
	EmojiSuggestion string    `json:"emoji_suggestion,omitempty"`
}

// Store is the persistence boundary for the coalescing pipeline.
type Store interface {
	// FindByConversationID returns the conversation record or ErrNotFound.
	FindByConversationID(ctx context.Context, conversationID string) (*Conversation, error)

	// InsertIfAbsent atomically inserts the first record for a conversation
	// id. Returns ErrConversationExists (and writes nothing) when a record
	// for that id is already present.
	InsertIfAbsent(ctx context.Context, conv *Conversation) error

	// AppendDetail records a follow-up flush. Re-appending the same message
	// id is a no-op.
	AppendDetail(ctx context.Context, detail *Detail) error

	// UpdateAssignedAgent stamps the assigned agent on a conversation record.
	// Missing records are not an error: assignment may arrive before the
	// first flush persists anything.
	UpdateAssignedAgent(ctx context.Context, conversationID, agentID string) error

	// UpdateResolution sets the resolved flag on a conversation record.
	UpdateResolution(ctx context.Context, conversationID string, resolved bool) error

	// ListUnresolved returns unresolved conversations, newest first.
	ListUnresolved(ctx context.Context) ([]*Conversation, error)

	Close() error
}
