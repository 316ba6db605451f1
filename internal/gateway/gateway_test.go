// ABOUTME: Tests for the assembled gateway HTTP surface
// ABOUTME: Covers webhook acknowledgement, the read API, health, and rate limiting

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flalingo/flamingo/internal/config"
	"github.com/flalingo/flamingo/internal/store"
)

func testGateway(t *testing.T, st store.Store) *Gateway {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = ":memory:"
	cfg.Analysis.BaseURL = "http://127.0.0.1:1" // unreachable: analysis falls back
	cfg.Analysis.Model = "gpt-4o-mini"
	cfg.Analysis.Timeout = 100 * time.Millisecond
	cfg.Freshchat.BaseURL = "http://127.0.0.1:1"
	cfg.Coalesce.InitialDelay = 10 * time.Millisecond
	cfg.Coalesce.FollowUpDelay = 50 * time.Millisecond
	cfg.Coalesce.FlushTimeout = time.Second
	cfg.Dedupe.TTL = time.Minute
	cfg.Dedupe.MaxEntries = 100
	cfg.RateLimit.RPS = 1000
	cfg.RateLimit.Burst = 1000
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"

	g := build(cfg, st, nil)
	t.Cleanup(func() {
		g.coalescer.Close()
		g.seen.Close()
		g.limiter.close()
	})
	return g
}

func serve(t *testing.T, g *Gateway) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(g.server.Handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestGateway_WebhookAlwaysAcknowledges(t *testing.T) {
	srv := serve(t, testGateway(t, store.NewMockStore()))

	for _, body := range []string{
		`{"action":"message_create","actor":{"actor_type":"user"}}`,
		`not json at all`,
	} {
		resp, err := http.Post(srv.URL+"/webhooks/freshchat", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestGateway_Healthz(t *testing.T) {
	srv := serve(t, testGateway(t, store.NewMockStore()))

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGateway_ListMessages(t *testing.T) {
	st := store.NewMockStore()
	require.NoError(t, st.InsertIfAbsent(context.Background(), &store.Conversation{
		MessageID:      "m1",
		ConversationID: "c1",
		Text:           "pending question",
		CreatedAt:      time.Now().UTC(),
	}))
	require.NoError(t, st.InsertIfAbsent(context.Background(), &store.Conversation{
		MessageID:      "m2",
		ConversationID: "c2",
		Resolved:       true,
	}))

	srv := serve(t, testGateway(t, st))

	resp, err := http.Get(srv.URL + "/api/messages")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var convs []*store.Conversation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&convs))
	require.Len(t, convs, 1)
	assert.Equal(t, "c1", convs[0].ConversationID)
}

func TestGateway_ListMessagesEmptyIsArray(t *testing.T) {
	srv := serve(t, testGateway(t, store.NewMockStore()))

	resp, err := http.Get(srv.URL + "/api/messages")
	require.NoError(t, err)
	defer resp.Body.Close()

	var convs []*store.Conversation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&convs))
	assert.Empty(t, convs)
}

func TestGateway_Metrics(t *testing.T) {
	srv := serve(t, testGateway(t, store.NewMockStore()))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLimiterPool_ThrottlesAfterBurst(t *testing.T) {
	p := newLimiterPool(1, 2)
	defer p.close()

	assert.True(t, p.allow("1.2.3.4"))
	assert.True(t, p.allow("1.2.3.4"))
	assert.False(t, p.allow("1.2.3.4"), "third immediate request exceeds the burst")
	assert.True(t, p.allow("5.6.7.8"), "limits are per client")
}

func TestLimiterPool_PruneDropsIdleClients(t *testing.T) {
	p := newLimiterPool(1, 1)
	defer p.close()

	p.allow("1.2.3.4")
	p.clients["1.2.3.4"].lastSeen = time.Now().Add(-2 * limiterIdleTTL)
	p.prune()

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Empty(t, p.clients)
}
