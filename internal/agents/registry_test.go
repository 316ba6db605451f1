// ABOUTME: Tests for the agent connection registry
// ABOUTME: Covers identity declaration, migration, idempotent re-select, and teardown

package agents

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flalingo/flamingo/internal/chat"
)

// fakeConn records pushed messages for assertions.
type fakeConn struct {
	id string

	mu     sync.Mutex
	pushed []*chat.Enriched
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Push(msg *chat.Enriched) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, msg)
}

func (f *fakeConn) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushed)
}

func TestRegistry_AnonymousUntilSelected(t *testing.T) {
	r := NewRegistry(nil)

	conn := newFakeConn("conn-1")
	r.OnConnectionOpened(conn)

	_, declared := r.AgentFor("conn-1")
	assert.False(t, declared)
	assert.Empty(t, r.ConnectionsFor("a1"))
	assert.Len(t, r.AllConnections(), 1)
}

func TestRegistry_AgentSelected(t *testing.T) {
	r := NewRegistry(nil)

	conn := newFakeConn("conn-1")
	r.OnConnectionOpened(conn)
	r.OnAgentSelected("conn-1", "a1", "ext-1")

	agentID, declared := r.AgentFor("conn-1")
	require.True(t, declared)
	assert.Equal(t, "a1", agentID)
	assert.Len(t, r.ConnectionsFor("a1"), 1)

	ext, ok := r.ExtensionFor("conn-1")
	require.True(t, ok)
	assert.Equal(t, "ext-1", ext)
}

func TestRegistry_ReselectSameAgentIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)

	r.OnConnectionOpened(newFakeConn("conn-1"))
	r.OnAgentSelected("conn-1", "a1", "")
	r.OnAgentSelected("conn-1", "a1", "")

	assert.Len(t, r.ConnectionsFor("a1"), 1)
}

func TestRegistry_ReselectDifferentAgentMigrates(t *testing.T) {
	r := NewRegistry(nil)

	r.OnConnectionOpened(newFakeConn("conn-1"))
	r.OnAgentSelected("conn-1", "a1", "")
	r.OnAgentSelected("conn-1", "a2", "")

	// The connection moved atomically: gone from a1, present for a2,
	// and a1's now-empty set is deleted.
	assert.Empty(t, r.ConnectionsFor("a1"))
	assert.Len(t, r.ConnectionsFor("a2"), 1)
}

func TestRegistry_MultipleConnectionsPerAgent(t *testing.T) {
	r := NewRegistry(nil)

	r.OnConnectionOpened(newFakeConn("conn-1"))
	r.OnConnectionOpened(newFakeConn("conn-2"))
	r.OnAgentSelected("conn-1", "a1", "")
	r.OnAgentSelected("conn-2", "a1", "")

	assert.Len(t, r.ConnectionsFor("a1"), 2)
}

func TestRegistry_CloseRemovesFromExactlyOneAgent(t *testing.T) {
	r := NewRegistry(nil)

	r.OnConnectionOpened(newFakeConn("conn-1"))
	r.OnConnectionOpened(newFakeConn("conn-2"))
	r.OnAgentSelected("conn-1", "a1", "ext-1")
	r.OnAgentSelected("conn-2", "a2", "")

	r.OnConnectionClosed("conn-1")

	assert.Empty(t, r.ConnectionsFor("a1"))
	assert.Len(t, r.ConnectionsFor("a2"), 1, "other agents' sets must be untouched")
	assert.Len(t, r.AllConnections(), 1)

	_, ok := r.ExtensionFor("conn-1")
	assert.False(t, ok, "extension mapping should be cleaned up")
}

func TestRegistry_CloseUnknownConnectionIsNoop(t *testing.T) {
	r := NewRegistry(nil)
	r.OnConnectionClosed("never-opened")
	assert.Empty(t, r.AllConnections())
}

func TestRegistry_SelectOnUnknownConnectionIsNoop(t *testing.T) {
	r := NewRegistry(nil)
	r.OnAgentSelected("never-opened", "a1", "")
	assert.Empty(t, r.ConnectionsFor("a1"))
}
