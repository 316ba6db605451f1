// ABOUTME: Websocket endpoint where agent consoles connect for live message pushes.
// ABOUTME: Registers connections with the agent registry and reads identity declarations.

package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/flalingo/flamingo/internal/agents"
	"github.com/flalingo/flamingo/internal/metrics"
)

// maxControlFrameBytes bounds inbound control frames. Consoles only send
// small identity declarations.
const maxControlFrameBytes = 4 * 1024

// Server upgrades HTTP requests to websocket push connections.
type Server struct {
	registry       *agents.Registry
	allowedOrigins []string
	logger         *slog.Logger
}

// NewServer creates a push Server. Pass nil logger for the default.
func NewServer(registry *agents.Registry, allowedOrigins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry:       registry,
		allowedOrigins: allowedOrigins,
		logger:         logger.With("component", "push"),
	}
}

// ServeHTTP accepts one websocket connection and runs it until the console
// disconnects. The connection starts anonymous; an agent_selected frame binds
// it to an agent identity in the registry.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.allowedOrigins,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(maxControlFrameBytes)

	connectionID := uuid.New().String()
	client := newClient(connectionID, conn, s.logger)

	s.registry.OnConnectionOpened(client)
	metrics.OpenConnections.Inc()
	defer func() {
		s.registry.OnConnectionClosed(connectionID)
		metrics.OpenConnections.Dec()
		client.close()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	go client.writeLoop(ctx)

	s.readLoop(ctx, connectionID, conn)
}

// readLoop consumes control frames until the connection drops. Unknown frame
// types are ignored so consoles can evolve ahead of the server.
func (s *Server) readLoop(ctx context.Context, connectionID string, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.logger.Debug("connection read ended",
				"connection_id", connectionID,
				"error", err,
			)
			return
		}

		var event clientEvent
		if err := json.Unmarshal(data, &event); err != nil {
			s.logger.Warn("ignoring malformed control frame",
				"connection_id", connectionID,
				"error", err,
			)
			continue
		}

		switch event.Type {
		case eventAgentSelected:
			if event.AgentID == "" {
				s.logger.Warn("agent_selected without agent_id", "connection_id", connectionID)
				continue
			}
			s.registry.OnAgentSelected(connectionID, event.AgentID, event.ExtensionID)
		default:
			s.logger.Debug("ignoring control frame",
				"connection_id", connectionID,
				"type", event.Type,
			)
		}
	}
}

var _ agents.Conn = (*Client)(nil)
