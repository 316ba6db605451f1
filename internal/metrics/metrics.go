// ABOUTME: Prometheus instrumentation for the webhook, coalescing, and delivery pipeline
// ABOUTME: Counters and gauges are registered on the default registry and served via promhttp

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEvents counts accepted webhook deliveries by action tag.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flamingo_webhook_events_total",
		Help: "Webhook deliveries received, by action.",
	}, []string{"action"})

	// DiscardedEvents counts webhook deliveries accepted but dropped
	// (non-user actor, unqualified user, empty text, duplicate, malformed).
	DiscardedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flamingo_webhook_discarded_total",
		Help: "Webhook deliveries accepted and discarded, by reason.",
	}, []string{"reason"})

	// Flushes counts completed conversation buffer flushes.
	Flushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flamingo_coalesce_flushes_total",
		Help: "Conversation buffer flushes completed.",
	})

	// FlushFailures counts flushes whose persistence step failed.
	FlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flamingo_coalesce_flush_failures_total",
		Help: "Conversation flushes with a failed persistence step.",
	})

	// Deliveries counts enriched messages pushed to agents, by routing mode.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flamingo_deliveries_total",
		Help: "Enriched messages delivered, by routing mode (unicast or broadcast).",
	}, []string{"mode"})

	// OpenConnections tracks live agent push-channel connections.
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flamingo_agent_connections",
		Help: "Currently open agent push-channel connections.",
	})
)
