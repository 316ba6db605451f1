// ABOUTME: Coalesces bursty per-message webhook events into one analyzed, delivered unit per quiet period.
// ABOUTME: Debounce timers are cancel-and-replace per conversation id; flush analyzes, persists, and routes.

package coalesce

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/flalingo/flamingo/internal/analysis"
	"github.com/flalingo/flamingo/internal/chat"
	"github.com/flalingo/flamingo/internal/metrics"
	"github.com/flalingo/flamingo/internal/store"
)

// Analyzer classifies the combined text of a flushed batch. Implementations
// must report a usable result instead of failing; see analysis.Client.
type Analyzer interface {
	Analyze(ctx context.Context, text string) analysis.Result
}

// Deliverer routes an enriched message to live agent connections.
type Deliverer interface {
	Deliver(msg *chat.Enriched)
}

// Config holds the debounce windows and the per-flush deadline.
type Config struct {
	// InitialDelay is the quiet period required before the first flush of a
	// conversation. Short, so a new contact reaches agents quickly.
	InitialDelay time.Duration

	// FollowUpDelay is the quiet period for conversations that have already
	// flushed once this process lifetime. Longer: an engaged conversation
	// needs less urgent re-notification.
	FollowUpDelay time.Duration

	// FlushTimeout bounds the analysis and persistence calls of one flush.
	FlushTimeout time.Duration
}

// buffer holds the pending events and the single scheduled flush timer for
// one conversation id.
type buffer struct {
	events []*chat.Message
	timer  *time.Timer
}

// Coalescer absorbs rapid message arrivals per conversation and flushes a
// combined batch once arrivals stop for a full debounce window. A buffer
// exists for a conversation id exactly while events are pending; at most one
// flush timer is scheduled per id at any instant.
type Coalescer struct {
	mu        sync.Mutex
	buffers   map[string]*buffer
	processed map[string]struct{} // conversation ids flushed at least once

	cfg       Config
	analyzer  Analyzer
	store     store.Store
	deliverer Deliverer
	logger    *slog.Logger

	closed bool
	wg     sync.WaitGroup // in-flight flushes
}

// New creates a Coalescer. Pass nil logger for the default.
func New(cfg Config, analyzer Analyzer, st store.Store, deliverer Deliverer, logger *slog.Logger) *Coalescer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 30 * time.Second
	}
	return &Coalescer{
		buffers:   make(map[string]*buffer),
		processed: make(map[string]struct{}),
		cfg:       cfg,
		analyzer:  analyzer,
		store:     st,
		deliverer: deliverer,
		logger:    logger.With("component", "coalescer"),
	}
}

// Buffer appends an event to its conversation's pending buffer, creating the
// buffer if absent, and reschedules that conversation's single flush timer.
// Every arrival resets the timer: a conversation flushes only after one full
// debounce window of silence.
func (c *Coalescer) Buffer(event *chat.Message) {
	if event.ConversationID == "" {
		// Fatal to this event only; other conversations are unaffected.
		c.logger.Error("dropping event without conversation id", "message_id", event.ID)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	buf, ok := c.buffers[event.ConversationID]
	if !ok {
		buf = &buffer{}
		c.buffers[event.ConversationID] = buf
	}
	buf.events = append(buf.events, event)

	delay := c.cfg.InitialDelay
	if _, done := c.processed[event.ConversationID]; done {
		delay = c.cfg.FollowUpDelay
	}

	if buf.timer != nil {
		buf.timer.Stop()
	}
	conversationID := event.ConversationID
	buf.timer = time.AfterFunc(delay, func() {
		c.flush(conversationID)
	})

	c.logger.Debug("event buffered",
		"conversation_id", event.ConversationID,
		"message_id", event.ID,
		"pending", len(buf.events),
		"flush_in", delay,
	)
}

// StampAssignment retroactively sets the assigned agent on any buffered
// events for a conversation, so a flush that fires after assignment routes
// to the right agent.
func (c *Coalescer) StampAssignment(conversationID, agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf, ok := c.buffers[conversationID]
	if !ok {
		return
	}
	for _, event := range buf.events {
		event.AssignedAgentID = agentID
	}

	c.logger.Debug("stamped assignment on buffered events",
		"conversation_id", conversationID,
		"agent_id", agentID,
		"events", len(buf.events),
	)
}

// flush closes out a conversation's buffer: the buffer is taken and cleared
// under lock first, so late arrivals start a fresh buffer instead of racing
// the in-flight flush. Failures are logged and the batch dropped; there is
// no retry. The conversation is marked processed either way.
func (c *Coalescer) flush(conversationID string) {
	c.mu.Lock()
	buf, ok := c.buffers[conversationID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.buffers, conversationID)
	events := buf.events
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	if len(events) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FlushTimeout)
	defer cancel()

	texts := make([]string, len(events))
	for i, event := range events {
		texts[i] = event.Text
	}
	combined := strings.Join(texts, "\n")

	result := c.analyzer.Analyze(ctx, combined)

	first := events[0]
	enriched := &chat.Enriched{
		Message:  *first,
		Analysis: result,
	}
	enriched.Text = combined

	if err := c.persist(ctx, enriched); err != nil {
		// Delivery is not gated on persistence: live notification is the
		// point of this subsystem and the chat platform remains the
		// durable source of truth.
		metrics.FlushFailures.Inc()
		c.logger.Error("persisting flushed batch failed",
			"conversation_id", conversationID,
			"events", len(events),
			"error", err,
		)
	}

	// Mark before delivering so events arriving in reaction to this
	// notification already see the follow-up window.
	c.markProcessed(conversationID)

	c.deliverer.Deliver(enriched)
	metrics.Flushes.Inc()

	c.logger.Info("conversation flushed",
		"conversation_id", conversationID,
		"events", len(events),
		"priority", result.PriorityLevel,
		"assigned_agent_id", enriched.AssignedAgentID,
	)
}

// persist writes the flushed batch: the first flush for a conversation id
// inserts the unique record; later flushes (or a lost duplicate-insert race)
// append a detail row instead.
func (c *Coalescer) persist(ctx context.Context, enriched *chat.Enriched) error {
	err := c.store.InsertIfAbsent(ctx, conversationRecord(enriched))
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrConversationExists) {
		return err
	}

	// The record exists: another flush won the first insert. That is
	// success, not failure.
	c.logger.Info("conversation already recorded, appending detail",
		"conversation_id", enriched.ConversationID,
	)
	return c.store.AppendDetail(ctx, detailRecord(enriched))
}

func (c *Coalescer) markProcessed(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed[conversationID] = struct{}{}
}

// PendingConversations reports how many conversations currently hold
// unflushed events.
func (c *Coalescer) PendingConversations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffers)
}

// Close stops all scheduled flush timers and waits for in-flight flushes.
// Pending buffers are dropped: a restart loses unflushed state by design.
func (c *Coalescer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for id, buf := range c.buffers {
		if buf.timer != nil {
			buf.timer.Stop()
		}
		delete(c.buffers, id)
	}
	c.mu.Unlock()

	c.wg.Wait()
}

func conversationRecord(enriched *chat.Enriched) *store.Conversation {
	return &store.Conversation{
		MessageID:              enriched.ID,
		ConversationID:         enriched.ConversationID,
		ExternalConversationID: enriched.ExternalConversationID,
		Text:                   enriched.Text,
		CreatedAt:              enriched.CreatedAt,
		UserID:                 enriched.Actor.ID,
		UserName:               enriched.Actor.Name,
		UserEmail:              enriched.Actor.Email,
		StateOfEmotion:         enriched.Analysis.StateOfEmotion,
		UserTone:               enriched.Analysis.UserTone,
		PriorityLevel:          enriched.Analysis.PriorityLevel,
		EmojiSuggestion:        enriched.Analysis.EmojiSuggestion,
		SubscriptionID:         enriched.SubscriptionID,
		StudentID:              enriched.StudentID,
		AssignedAgentID:        enriched.AssignedAgentID,
	}
}

func detailRecord(enriched *chat.Enriched) *store.Detail {
	return &store.Detail{
		MessageID:       enriched.ID,
		ConversationID:  enriched.ConversationID,
		Text:            enriched.Text,
		CreatedAt:       enriched.CreatedAt,
		UserID:          enriched.Actor.ID,
		UserName:        enriched.Actor.Name,
		UserEmail:       enriched.Actor.Email,
		StateOfEmotion:  enriched.Analysis.StateOfEmotion,
		UserTone:        enriched.Analysis.UserTone,
		PriorityLevel:   enriched.Analysis.PriorityLevel,
		EmojiSuggestion: enriched.Analysis.EmojiSuggestion,
	}
}
