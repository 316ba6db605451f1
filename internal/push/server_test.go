// ABOUTME: Tests for the websocket push endpoint
// ABOUTME: Covers registration, identity declaration, message push, and teardown

package push

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flalingo/flamingo/internal/agents"
	"github.com/flalingo/flamingo/internal/analysis"
	"github.com/flalingo/flamingo/internal/chat"
)

func dialTestServer(t *testing.T) (*agents.Registry, *websocket.Conn) {
	t.Helper()

	registry := agents.NewRegistry(nil)
	srv := httptest.NewServer(NewServer(registry, nil, nil))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	return registry, conn
}

func waitForConnections(t *testing.T, registry *agents.Registry, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(registry.AllConnections()) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("registry never reached %d connections", want)
}

func TestServer_ConnectionRegistersAnonymously(t *testing.T) {
	registry, _ := dialTestServer(t)
	waitForConnections(t, registry, 1)
	assert.Empty(t, registry.ConnectionsFor("a1"))
}

func TestServer_AgentSelectedBindsIdentity(t *testing.T) {
	registry, conn := dialTestServer(t)
	waitForConnections(t, registry, 1)

	frame, err := json.Marshal(clientEvent{Type: eventAgentSelected, AgentID: "a1", ExtensionID: "ext-1"})
	require.NoError(t, err)
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, frame))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(registry.ConnectionsFor("a1")) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, registry.ConnectionsFor("a1"), 1)
}

func TestServer_PushReachesConsole(t *testing.T) {
	registry, conn := dialTestServer(t)
	waitForConnections(t, registry, 1)

	msg := &chat.Enriched{
		Message: chat.Message{
			ID:             "m1",
			ConversationID: "c1",
			Text:           "hello",
		},
		Analysis: analysis.Fallback(),
	}
	for _, c := range registry.AllConnections() {
		c.Push(msg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var event serverEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, eventMessage, event.Type)
	require.NotNil(t, event.Message)
	assert.Equal(t, "c1", event.Message.ConversationID)
	assert.Equal(t, "hello", event.Message.Text)
}

func TestServer_DisconnectRemovesFromRegistry(t *testing.T) {
	registry, conn := dialTestServer(t)
	waitForConnections(t, registry, 1)

	conn.Close(websocket.StatusNormalClosure, "")
	waitForConnections(t, registry, 0)
}

func TestServer_MalformedFrameIsIgnored(t *testing.T) {
	registry, conn := dialTestServer(t)
	waitForConnections(t, registry, 1)

	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte("not json")))

	// Connection must survive the bad frame.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, registry.AllConnections(), 1)
}
