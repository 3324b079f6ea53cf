// Scout - GitHub contribution recommender server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/osscout/scout/internal/api"
	"github.com/osscout/scout/internal/chat"
	"github.com/osscout/scout/internal/config"
	"github.com/osscout/scout/internal/embedding"
	"github.com/osscout/scout/internal/github"
	"github.com/osscout/scout/internal/identity"
	"github.com/osscout/scout/internal/llm"
	"github.com/osscout/scout/internal/middleware"
	"github.com/osscout/scout/internal/rag"
	"github.com/osscout/scout/internal/recommend"
	"github.com/osscout/scout/internal/search"
	"github.com/osscout/scout/internal/store"
	"github.com/osscout/scout/web"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "version", version, "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	// Scoring weights, with an optional hot-reloaded override file.
	weights := recommend.NewWeightsSource(cfg.Scoring.WeightsFile)
	pipeline := recommend.NewPipeline(recommend.NewScorer(weights))

	// Completion providers, best-first. An empty chain is allowed; the
	// assistant falls back to keyword classification and templated replies.
	chain, err := llm.BuildChain(context.Background(), cfg.LLM)
	if err != nil {
		slog.Error("Failed to build LLM provider chain", "error", err)
		os.Exit(1)
	}
	var classifierClient llm.Client
	if len(chain) > 0 {
		classifierClient = chain[0]
	}

	// Embeddings are optional; misconfiguration degrades to keyword search
	// rather than refusing to start.
	engine, err := embedding.NewEngine(context.Background(), cfg.Embedding, cfg.LLM.GeminiAPIKey)
	if err != nil {
		slog.Warn("Embedding engine unavailable; similarity search will use keyword matching", "error", err)
		engine = nil
	}
	ragStore := rag.New(repo, engine)

	ghClient := github.NewClient(cfg.GitHubToken)
	searchSvc := search.NewService(repo, ghClient, cfg.Chat.MinCachedResults)

	// Assistant pipeline.
	transcript, err := chat.NewTranscriptLogger(chat.TranscriptConfig{
		Enabled:   cfg.TranscriptLog.Enabled,
		Dir:       cfg.TranscriptLog.Dir,
		QueueSize: cfg.TranscriptLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}

	chatService := chat.NewService(
		chat.NewClassifier(classifierClient, logger),
		chat.NewExecutor(repo, searchSvc, ragStore, cfg.Chat.ToolTimeout, cfg.Chat.MinCachedResults, logger),
		chat.NewManager(repo, cfg.Chat.TokenBudget),
		chat.NewGenerator(chain, cfg.Chat.MaxResponseLength, logger),
		cfg.Chat.MaxMessageLength,
		logger,
	)
	rateLimiter := chat.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	chatHandler := chat.NewHandler(chatService, rateLimiter, transcript, wsOriginPatterns(cfg), logger)
	defer chatHandler.Close()

	// REST handlers.
	baseHandler := api.NewHandler(repo, cfg)
	authHandler := api.NewAuthHandler(baseHandler)
	profileHandler := api.NewProfileHandler(baseHandler)
	issuesHandler := api.NewIssuesHandler(baseHandler, searchSvc, ragStore)
	dashboardHandler := api.NewDashboardHandler(baseHandler, searchSvc, pipeline, ragStore)
	healthHandler := api.NewHealthHandler(repo, cfg, version)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/healthz"))
	r.Use(middleware.CORS(corsOrigins(cfg)))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	healthHandler.RegisterRoutes(r)
	authHandler.RegisterRoutes(r)
	profileHandler.RegisterRoutes(r)
	issuesHandler.RegisterRoutes(r)
	dashboardHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Live GitHub top-ups and websocket chat sessions outlive any fixed
	// write budget, so only reads and idle connections are bounded.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Background workers.
	store.StartMaintenanceWorker(ctx, repo, cfg.IssueCacheTTL)
	if err := weights.Watch(ctx); err != nil {
		slog.Warn("Scoring weights file will not hot-reload", "error", err)
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// corsOrigins returns the origins the API accepts. A configured frontend URL
// pins CORS to that origin; development allows any.
func corsOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL != "" {
		return []string{cfg.FrontendURL}
	}
	return []string{"*"}
}

// wsOriginPatterns converts the frontend URL into the host pattern the
// websocket accept check matches origins against.
func wsOriginPatterns(cfg *config.Config) []string {
	if cfg.FrontendURL == "" {
		return []string{"*"}
	}
	if u, err := url.Parse(cfg.FrontendURL); err == nil && u.Host != "" {
		return []string{u.Host}
	}
	return []string{cfg.FrontendURL}
}
