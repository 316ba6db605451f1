// ABOUTME: HTTP endpoint for inbound Freshchat webhooks.
// ABOUTME: Always acknowledges with 200 so the platform never retries or disables the hook.

package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/flalingo/flamingo/internal/metrics"
)

// maxBodyBytes bounds a webhook payload. Freshchat events are small; a
// megabyte is generous.
const maxBodyBytes = 1 << 20

// Handler terminates the webhook HTTP surface and hands decoded payloads to
// the dispatcher.
type Handler struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewHandler creates a Handler. Pass nil logger for the default.
func NewHandler(dispatcher *Dispatcher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		dispatcher: dispatcher,
		logger:     logger.With("component", "webhook"),
	}
}

// ServeHTTP accepts one webhook delivery. The response is HTTP 200 no matter
// what: any non-2xx would make Freshchat retry (duplicating events) and
// eventually disable the webhook. Malformed bodies are logged and dropped.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error("reading webhook body failed", "error", err)
		h.acknowledge(w)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.DiscardedEvents.WithLabelValues("malformed").Inc()
		h.logger.Error("decoding webhook payload failed",
			"error", err,
			"bytes", len(body),
		)
		h.acknowledge(w)
		return
	}

	h.dispatcher.Dispatch(r.Context(), &payload)
	h.acknowledge(w)
}

func (h *Handler) acknowledge(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"message": "Webhook received"}); err != nil {
		h.logger.Error("writing webhook acknowledgement failed", "error", err)
	}
}
