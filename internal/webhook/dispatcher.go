// ABOUTME: Classifies webhook payloads and feeds qualified message events into the coalescer.
// ABOUTME: Applies actor filtering, duplicate suppression, and sender qualification before buffering.

package webhook

import (
	"context"
	"log/slog"

	"github.com/flalingo/flamingo/internal/chat"
	"github.com/flalingo/flamingo/internal/dedupe"
	"github.com/flalingo/flamingo/internal/freshchat"
	"github.com/flalingo/flamingo/internal/metrics"
	"github.com/flalingo/flamingo/internal/store"
)

// subscribedStatus is the cf_user_status value that qualifies a sender for
// the notification pipeline.
const subscribedStatus = "Subscribed"

// Coalescer is the buffering stage the dispatcher feeds.
type Coalescer interface {
	Buffer(event *chat.Message)
	StampAssignment(conversationID, agentID string)
}

// UserDirectory looks up sender profiles for qualification.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (*freshchat.User, error)
}

// Dispatcher routes decoded webhook payloads by action. All paths terminate
// without error: a webhook event is either processed or deliberately
// discarded, never retried by us.
type Dispatcher struct {
	coalescer Coalescer
	users     UserDirectory
	store     store.Store
	seen      *dedupe.Cache
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. Pass nil logger for the default.
func NewDispatcher(coalescer Coalescer, users UserDirectory, st store.Store, seen *dedupe.Cache, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		coalescer: coalescer,
		users:     users,
		store:     st,
		seen:      seen,
		logger:    logger.With("component", "dispatcher"),
	}
}

// Dispatch routes one payload by action tag. Unknown actions are logged and
// ignored so Freshchat can add event types without breaking us.
func (d *Dispatcher) Dispatch(ctx context.Context, payload *Payload) {
	metrics.WebhookEvents.WithLabelValues(payload.Action).Inc()

	switch payload.Action {
	case ActionMessageCreate:
		d.handleMessage(ctx, payload)
	case ActionConversationAssignment:
		d.handleAssignment(ctx, payload)
	case ActionConversationResolution:
		d.handleResolution(ctx, payload)
	default:
		d.logger.Debug("ignoring webhook action", "action", payload.Action)
	}
}

// handleMessage qualifies an inbound user message and buffers it. Agent
// replies, duplicates, empty bodies, and unsubscribed senders are discarded.
func (d *Dispatcher) handleMessage(ctx context.Context, payload *Payload) {
	msg := payload.Data.Message
	if msg == nil || msg.ConversationID == "" {
		d.discard("malformed", "message_create without message body")
		return
	}

	// Agent-authored messages echo back through the webhook; only end-user
	// messages feed the pipeline.
	if payload.Actor.ActorType != "user" {
		d.discard("non_user_actor", "actor is not an end user",
			"actor_type", payload.Actor.ActorType,
			"conversation_id", msg.ConversationID,
		)
		return
	}

	if d.seen.CheckAndMark(msg.ID) {
		d.discard("duplicate", "duplicate webhook delivery",
			"message_id", msg.ID,
			"conversation_id", msg.ConversationID,
		)
		return
	}

	text := msg.CombinedText()
	if text == "" {
		d.discard("empty_text", "message has no textual content",
			"message_id", msg.ID,
			"conversation_id", msg.ConversationID,
		)
		return
	}

	user, err := d.users.GetUser(ctx, msg.UserID)
	if err != nil {
		// Cannot verify subscription status, so the event does not qualify.
		d.discard("lookup_failed", "user lookup failed",
			"user_id", msg.UserID,
			"conversation_id", msg.ConversationID,
			"error", err,
		)
		return
	}

	if status := user.Property("cf_user_status"); status != subscribedStatus {
		d.discard("not_subscribed", "sender is not subscribed",
			"user_id", msg.UserID,
			"status", status,
			"conversation_id", msg.ConversationID,
		)
		return
	}

	d.coalescer.Buffer(&chat.Message{
		ID:                     msg.ID,
		ConversationID:         msg.ConversationID,
		ExternalConversationID: msg.ChannelID,
		Text:                   text,
		CreatedAt:              msg.CreatedTime,
		Actor: chat.Actor{
			ID:    user.ID,
			Name:  user.FullName(),
			Email: user.Email,
		},
		SubscriptionID: user.Property("cf_subscription_id"),
		StudentID:      user.Property("cf_student_id"),
	})
}

// handleAssignment stamps the new owner on both the durable record and any
// buffered events still waiting to flush.
func (d *Dispatcher) handleAssignment(ctx context.Context, payload *Payload) {
	a := payload.Data.Assignment
	if a == nil || a.Conversation.ConversationID == "" {
		d.discard("malformed", "assignment without conversation")
		return
	}

	conversationID := a.Conversation.ConversationID
	agentID := a.Conversation.AssignedAgentID

	d.coalescer.StampAssignment(conversationID, agentID)

	if err := d.store.UpdateAssignedAgent(ctx, conversationID, agentID); err != nil {
		d.logger.Error("updating assigned agent failed",
			"conversation_id", conversationID,
			"agent_id", agentID,
			"error", err,
		)
		return
	}

	d.logger.Info("conversation assigned",
		"conversation_id", conversationID,
		"agent_id", agentID,
	)
}

// handleResolution flips the resolved flag on the durable record.
func (d *Dispatcher) handleResolution(ctx context.Context, payload *Payload) {
	r := payload.Data.Resolution
	if r == nil || r.Conversation.ConversationID == "" {
		d.discard("malformed", "resolution without conversation")
		return
	}

	conversationID := r.Conversation.ConversationID
	resolved := r.Resolved()

	if err := d.store.UpdateResolution(ctx, conversationID, resolved); err != nil {
		d.logger.Error("updating resolution failed",
			"conversation_id", conversationID,
			"resolved", resolved,
			"error", err,
		)
		return
	}

	d.logger.Info("conversation resolution updated",
		"conversation_id", conversationID,
		"resolved", resolved,
	)
}

func (d *Dispatcher) discard(reason, msg string, args ...any) {
	metrics.DiscardedEvents.WithLabelValues(reason).Inc()
	d.logger.Info("discarding webhook event: "+msg, append([]any{"reason", reason}, args...)...)
}
