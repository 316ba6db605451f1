// ABOUTME: Tracks live agent push-channel connections and their declared identities.
// ABOUTME: Bipartite agent-id/connection-id registry with atomic migration on re-select.

package agents

import (
	"log/slog"
	"sync"
	"time"

	"github.com/flalingo/flamingo/internal/chat"
)

// Conn is one live push-channel connection capable of fire-and-forget sends.
// Implemented by push.Client; tests supply fakes.
type Conn interface {
	ID() string
	Push(msg *chat.Enriched)
}

// entry is the registry's per-connection bookkeeping.
type entry struct {
	conn        Conn
	agentID     string // empty until the connection declares an identity
	connectedAt time.Time
}

// Registry maintains the live mapping from agent identity to the set of open
// connections representing that agent. An agent may hold several connections
// at once (multiple tabs or devices); a connection belongs to at most one
// agent at any instant.
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*entry          // connection id -> entry
	agents     map[string]map[string]Conn // agent id -> connection id -> conn
	extensions map[string]string          // connection id -> extension id
	logger     *slog.Logger
}

// NewRegistry creates an empty Registry. Pass nil logger for the default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:      make(map[string]*entry),
		agents:     make(map[string]map[string]Conn),
		extensions: make(map[string]string),
		logger:     logger.With("component", "registry"),
	}
}

// OnConnectionOpened registers a freshly opened connection. The connection
// is anonymous until OnAgentSelected declares its identity.
func (r *Registry) OnConnectionOpened(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[conn.ID()] = &entry{
		conn:        conn,
		connectedAt: time.Now(),
	}

	r.logger.Info("connection opened",
		"connection_id", conn.ID(),
		"total_connections", len(r.conns),
	)
}

// OnAgentSelected binds a connection to an agent identity. If the connection
// previously belonged to a different agent, it is migrated atomically: removed
// from the old agent's set (deleting the set if it empties) before joining the
// new one. Re-selecting the same agent is a bookkeeping refresh only.
func (r *Registry) OnAgentSelected(connectionID, agentID, extensionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connectionID]
	if !ok {
		r.logger.Warn("agent selected on unknown connection",
			"connection_id", connectionID,
			"agent_id", agentID,
		)
		return
	}

	if e.agentID != "" && e.agentID != agentID {
		r.removeFromAgentLocked(e.agentID, connectionID)
	}

	if _, ok := r.agents[agentID]; !ok {
		r.agents[agentID] = make(map[string]Conn)
	}
	r.agents[agentID][connectionID] = e.conn
	e.agentID = agentID

	if extensionID != "" {
		r.extensions[connectionID] = extensionID
	}

	r.logger.Info("agent selected",
		"connection_id", connectionID,
		"agent_id", agentID,
		"agent_connections", len(r.agents[agentID]),
	)
}

// OnConnectionClosed removes a connection from the registry and from
// whichever agent set contains it.
func (r *Registry) OnConnectionClosed(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connectionID]
	if !ok {
		return
	}

	if e.agentID != "" {
		r.removeFromAgentLocked(e.agentID, connectionID)
	}
	delete(r.extensions, connectionID)
	delete(r.conns, connectionID)

	r.logger.Info("connection closed",
		"connection_id", connectionID,
		"agent_id", e.agentID,
		"total_connections", len(r.conns),
	)
}

// removeFromAgentLocked removes a connection from an agent's set, deleting
// the set when it empties. Must be called with mu held.
func (r *Registry) removeFromAgentLocked(agentID, connectionID string) {
	set, ok := r.agents[agentID]
	if !ok {
		return
	}
	delete(set, connectionID)
	if len(set) == 0 {
		delete(r.agents, agentID)
	}
}

// ConnectionsFor returns the live connections declared for an agent,
// possibly empty.
func (r *Registry) ConnectionsFor(agentID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.agents[agentID]
	conns := make([]Conn, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

// AllConnections returns every open connection, declared or anonymous.
func (r *Registry) AllConnections() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.conns))
	for _, e := range r.conns {
		conns = append(conns, e.conn)
	}
	return conns
}

// AgentFor reports which agent a connection is declared for, if any.
func (r *Registry) AgentFor(connectionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connectionID]
	if !ok || e.agentID == "" {
		return "", false
	}
	return e.agentID, true
}

// ExtensionFor reports the extension id declared on a connection, if any.
func (r *Registry) ExtensionFor(connectionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext, ok := r.extensions[connectionID]
	return ext, ok
}
