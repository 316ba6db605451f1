// ABOUTME: Wires the webhook, coalescing, analysis, persistence, and push components together.
// ABOUTME: Owns the HTTP server lifecycle including graceful shutdown.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flalingo/flamingo/internal/agents"
	"github.com/flalingo/flamingo/internal/analysis"
	"github.com/flalingo/flamingo/internal/coalesce"
	"github.com/flalingo/flamingo/internal/config"
	"github.com/flalingo/flamingo/internal/dedupe"
	"github.com/flalingo/flamingo/internal/freshchat"
	"github.com/flalingo/flamingo/internal/push"
	"github.com/flalingo/flamingo/internal/store"
	"github.com/flalingo/flamingo/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

// Gateway is the assembled service: one HTTP listener carrying the webhook
// ingress, the agent push channel, the read API, and operational endpoints.
type Gateway struct {
	cfg    *config.Config
	logger *slog.Logger

	store     store.Store
	coalescer *coalesce.Coalescer
	seen      *dedupe.Cache
	registry  *agents.Registry
	limiter   *limiterPool
	server    *http.Server
}

// New builds a Gateway from configuration, opening the database.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLStore(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	return build(cfg, st, logger), nil
}

// build assembles the component graph over an already-open store. Split from
// New so tests can inject a mock store.
func build(cfg *config.Config, st store.Store, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	registry := agents.NewRegistry(logger)
	router := agents.NewRouter(registry, logger)

	analyzer := analysis.NewClient(analysis.Config{
		BaseURL: cfg.Analysis.BaseURL,
		APIKey:  cfg.Analysis.APIKey,
		Model:   cfg.Analysis.Model,
		Timeout: cfg.Analysis.Timeout,
	}, logger)

	coalescer := coalesce.New(coalesce.Config{
		InitialDelay:  cfg.Coalesce.InitialDelay,
		FollowUpDelay: cfg.Coalesce.FollowUpDelay,
		FlushTimeout:  cfg.Coalesce.FlushTimeout,
	}, analyzer, st, router, logger)

	users := freshchat.NewClient(freshchat.Config{
		BaseURL: cfg.Freshchat.BaseURL,
		APIKey:  cfg.Freshchat.APIKey,
	}, logger)

	seen := dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxEntries)
	dispatcher := webhook.NewDispatcher(coalescer, users, st, seen, logger)

	g := &Gateway{
		cfg:       cfg,
		logger:    logger.With("component", "gateway"),
		store:     st,
		coalescer: coalescer,
		seen:      seen,
		registry:  registry,
		limiter:   newLimiterPool(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	}

	g.server = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(dispatcher),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// routes builds the HTTP surface. The webhook route carries no rate limiting
// or auth: it must acknowledge everything the platform sends.
func (g *Gateway) routes(dispatcher *webhook.Dispatcher) http.Handler {
	origins := g.cfg.Push.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Method(http.MethodPost, "/webhooks/freshchat", webhook.NewHandler(dispatcher, g.logger))
	r.Method(http.MethodGet, "/ws", push.NewServer(g.registry, g.cfg.Push.AllowedOrigins, g.logger))

	r.Group(func(r chi.Router) {
		r.Use(g.limiter.middleware)
		r.Get("/api/messages", g.handleListMessages)
	})

	r.Get("/healthz", g.handleHealthz)

	if g.cfg.Metrics.Enabled {
		r.Method(http.MethodGet, g.cfg.Metrics.Path, promhttp.Handler())
	}

	return r
}

// handleListMessages serves the unresolved-conversation backlog for agent
// consoles catching up after a reconnect.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	convs, err := g.store.ListUnresolved(r.Context())
	if err != nil {
		g.logger.Error("listing unresolved conversations failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if convs == nil {
		convs = []*store.Conversation{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(convs); err != nil {
		g.logger.Error("encoding message list failed", "error", err)
	}
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Run serves HTTP until the context is cancelled, then shuts down in order:
// listener first (no new events), then coalescer (in-flight flushes finish),
// then the caches and the store.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("gateway listening", "addr", g.cfg.Server.HTTPAddr)
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	g.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := g.server.Shutdown(shutdownCtx); err != nil {
		g.logger.Error("http shutdown failed", "error", err)
	}

	g.coalescer.Close()
	g.seen.Close()
	g.limiter.close()

	if err := g.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}
