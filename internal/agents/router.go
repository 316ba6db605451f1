// ABOUTME: Routes enriched messages to the correct audience of live connections.
// ABOUTME: Unicasts to the assigned agent's devices, broadcasting when no specific target exists.

package agents

import (
	"log/slog"

	"github.com/flalingo/flamingo/internal/chat"
	"github.com/flalingo/flamingo/internal/metrics"
)

// Router delivers enriched messages over the push channel. Delivery is
// fire-and-forget: there is no acknowledgement and no retry.
type Router struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRouter creates a Router over the given registry.
func NewRouter(registry *Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		logger:   logger.With("component", "router"),
	}
}

// Deliver pushes a message to its audience. An unassigned conversation is
// everyone's concern and goes to all open connections. An assigned
// conversation goes only to the owning agent's connections; if that agent has
// none live (offline, reconnecting elsewhere), the message falls back to a
// broadcast rather than being silently lost.
func (r *Router) Deliver(msg *chat.Enriched) {
	if msg.AssignedAgentID == "" {
		r.broadcast(msg, "unassigned")
		return
	}

	conns := r.registry.ConnectionsFor(msg.AssignedAgentID)
	if len(conns) == 0 {
		r.broadcast(msg, "agent offline")
		return
	}

	for _, conn := range conns {
		conn.Push(msg)
	}
	metrics.Deliveries.WithLabelValues("unicast").Inc()

	r.logger.Debug("message delivered",
		"conversation_id", msg.ConversationID,
		"agent_id", msg.AssignedAgentID,
		"connections", len(conns),
	)
}

func (r *Router) broadcast(msg *chat.Enriched, reason string) {
	conns := r.registry.AllConnections()
	for _, conn := range conns {
		conn.Push(msg)
	}
	metrics.Deliveries.WithLabelValues("broadcast").Inc()

	r.logger.Debug("message broadcast",
		"conversation_id", msg.ConversationID,
		"reason", reason,
		"connections", len(conns),
	)
}
