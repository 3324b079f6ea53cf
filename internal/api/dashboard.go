package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/osscout/scout/internal/identity"
	"github.com/osscout/scout/internal/rag"
	"github.com/osscout/scout/internal/recommend"
	"github.com/osscout/scout/internal/search"
)

// trendingTopN is how many trending search terms the dashboard shows.
const trendingTopN = 5

// DashboardHandler serves the ranked-recommendation dashboard.
type DashboardHandler struct {
	*Handler
	search   *search.Service
	pipeline *recommend.Pipeline
	rag      *rag.Store
}

// NewDashboardHandler creates a new dashboard handler.
func NewDashboardHandler(base *Handler, searchSvc *search.Service, pipeline *recommend.Pipeline, ragStore *rag.Store) *DashboardHandler {
	return &DashboardHandler{Handler: base, search: searchSvc, pipeline: pipeline, rag: ragStore}
}

// RegisterRoutes registers the dashboard route.
func (h *DashboardHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/dashboard", h.Dashboard)
}

// Dashboard runs the recommendation pipeline over the cached issue snapshot
// and returns ranked picks alongside the user's stats, skills, solve
// patterns, and trending searches. Issues the user already solved are
// excluded from the picks.
func (h *DashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ctx := r.Context()
	user, err := h.repo.GetUser(ctx, userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	skills, err := h.repo.GetUserSkills(ctx, userID)
	if err != nil {
		slog.Error("Failed to load skills for dashboard", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load dashboard")
		return
	}
	stats, err := h.repo.GetUserStats(ctx, userID)
	if err != nil {
		slog.Error("Failed to load stats for dashboard", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load dashboard")
		return
	}

	profile := recommend.NewProfile(user, skills)
	issues, err := h.search.Cached(ctx, search.Query{})
	if err != nil {
		slog.Error("Failed to load issue snapshot for dashboard", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load dashboard")
		return
	}

	// A thin cache gets one live top-up for the user's main language before
	// ranking.
	if len(issues) < h.search.MinCached() {
		if lang := primaryLanguage(profile); lang != "" {
			if _, err := h.search.Search(ctx, search.Query{Language: lang}); err != nil {
				slog.Warn("Dashboard live top-up failed", "error", err, "user_id", userID, "language", lang)
			} else if refreshed, err := h.search.Cached(ctx, search.Query{}); err == nil {
				issues = refreshed
			}
		}
	}

	recs, pipelineStats := h.pipeline.Run(profile, issues, recommend.DefaultTopN, time.Now())
	recs = h.withoutSolved(ctx, userID, recs)

	patterns, err := h.rag.AnalyzePatterns(ctx, userID)
	if err != nil {
		slog.Warn("Failed to analyze solve patterns", "error", err, "user_id", userID)
		patterns = nil
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"recommendations": recs,
		"pipeline":        pipelineStats,
		"stats":           stats,
		"skills":          skills,
		"patterns":        patterns,
		"trending":        h.search.Trending(trendingTopN),
	})
}

// withoutSolved drops recommendations whose URL is in the user's solved
// history. A history read failure keeps the full list.
func (h *DashboardHandler) withoutSolved(ctx context.Context, userID string, recs []recommend.ScoredIssue) []recommend.ScoredIssue {
	solved, err := h.repo.GetSolvedIssues(ctx, userID, 0)
	if err != nil {
		slog.Warn("Failed to load solved history for dashboard filter", "error", err, "user_id", userID)
		return recs
	}
	if len(solved) == 0 {
		return recs
	}

	solvedURLs := make(map[string]bool, len(solved))
	for _, s := range solved {
		solvedURLs[s.IssueURL] = true
	}

	kept := recs[:0]
	for _, rec := range recs {
		if !solvedURLs[rec.Issue.URL] {
			kept = append(kept, rec)
		}
	}
	return kept
}

// primaryLanguage picks the language a live top-up should target: the first
// preferred language, else the most-solved one.
func primaryLanguage(profile *recommend.Profile) string {
	if len(profile.PreferredLanguages) > 0 {
		return profile.PreferredLanguages[0]
	}
	best, bestCount := "", 0
	for lang, count := range profile.SolvedLanguages {
		if count > bestCount || (count == bestCount && (best == "" || lang < best)) {
			best, bestCount = lang, count
		}
	}
	return best
}
