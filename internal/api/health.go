package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/osscout/scout/internal/config"
	"github.com/osscout/scout/internal/store"
)

// healthCheckTimeout bounds the database ping.
const healthCheckTimeout = 5 * time.Second

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	repo    store.Repository
	cfg     *config.Config
	version string
}

// NewHealthHandler creates a new health handler. version is reported in the
// payload; empty means "dev".
func NewHealthHandler(repo store.Repository, cfg *config.Config, version string) *HealthHandler {
	if version == "" {
		version = "dev"
	}
	return &HealthHandler{repo: repo, cfg: cfg, version: version}
}

// RegisterRoutes registers the health check route.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.Health)
}

// Health reports API and database status plus which external providers have
// credentials configured.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		checks["database"] = "unreachable"
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, map[string]interface{}{
		"status":  status,
		"version": h.version,
		"checks":  checks,
		"providers": map[string]bool{
			"github":    h.cfg.GitHubToken != "",
			"groq":      h.cfg.LLM.GroqAPIKey != "",
			"openai":    h.cfg.LLM.OpenAIAPIKey != "",
			"gemini":    h.cfg.LLM.GeminiAPIKey != "",
			"embedding": h.cfg.Embedding.Provider != "",
		},
	})
}
