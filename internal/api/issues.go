package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/osscout/scout/internal/domain"
	"github.com/osscout/scout/internal/github"
	"github.com/osscout/scout/internal/identity"
	"github.com/osscout/scout/internal/rag"
	"github.com/osscout/scout/internal/search"
)

// defaultHistoryLimit bounds GET /api/issues/history when no limit is given.
const defaultHistoryLimit = 50

// IssuesHandler handles issue search, mark-solved, and solved history.
type IssuesHandler struct {
	*Handler
	search *search.Service
	rag    *rag.Store
}

// NewIssuesHandler creates a new issues handler.
func NewIssuesHandler(base *Handler, searchSvc *search.Service, ragStore *rag.Store) *IssuesHandler {
	return &IssuesHandler{Handler: base, search: searchSvc, rag: ragStore}
}

// RegisterRoutes registers issue routes.
func (h *IssuesHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/issues", func(r chi.Router) {
		r.Get("/search", h.Search)
		r.Post("/solved", h.MarkSolved)
		r.Get("/history", h.History)
	})
}

// Search answers a hybrid cache-plus-live issue search.
func (h *IssuesHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	q := search.Query{
		Language: strings.ToLower(strings.TrimSpace(r.URL.Query().Get("language"))),
		Terms:    strings.TrimSpace(r.URL.Query().Get("q")),
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("difficulty")); raw != "" {
		difficulty := domain.SkillLevel(strings.ToLower(raw))
		switch difficulty {
		case domain.LevelBeginner, domain.LevelIntermediate, domain.LevelAdvanced:
			q.Difficulty = difficulty
		default:
			Error(w, http.StatusBadRequest, "difficulty must be beginner, intermediate, or advanced")
			return
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit = limit
	}

	issues, err := h.search.Search(r.Context(), q)
	if err != nil {
		slog.Error("Issue search failed", "error", err, "user_id", userID, "language", q.Language)
		if errors.Is(err, github.ErrRateLimited) {
			Error(w, http.StatusServiceUnavailable, "github rate limit exceeded, try again later")
			return
		}
		Error(w, http.StatusBadGateway, "issue search failed")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"issues": issues,
		"count":  len(issues),
	})
}

type markSolvedRequest struct {
	IssueURL   string   `json:"issue_url"`
	Title      string   `json:"title"`
	Language   string   `json:"language"`
	Difficulty string   `json:"difficulty"`
	Labels     []string `json:"labels"`
}

// MarkSolved records a solved issue: history row, per-language skill bump,
// and the similarity-search document. Marking the same issue twice is
// idempotent.
func (h *IssuesHandler) MarkSolved(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req markSolvedRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.IssueURL = strings.TrimSpace(req.IssueURL)
	req.Title = strings.TrimSpace(req.Title)
	if req.IssueURL == "" || req.Title == "" {
		Error(w, http.StatusBadRequest, "issue_url and title are required")
		return
	}

	solved := &domain.SolvedIssue{
		UserID:     userID,
		IssueURL:   req.IssueURL,
		Title:      req.Title,
		Language:   strings.ToLower(strings.TrimSpace(req.Language)),
		Difficulty: domain.ParseSkillLevel(req.Difficulty),
		Labels:     req.Labels,
		SolvedAt:   time.Now(),
	}

	ctx := r.Context()
	if err := h.repo.AddSolvedIssue(ctx, solved); err != nil {
		slog.Error("Failed to record solved issue", "error", err, "user_id", userID, "issue_url", solved.IssueURL)
		Error(w, http.StatusInternalServerError, "failed to record solved issue")
		return
	}

	if solved.Language != "" {
		if err := h.repo.BumpUserSkill(ctx, userID, solved.Language, solved.SolvedAt); err != nil {
			slog.Error("Failed to update skill after solve", "error", err, "user_id", userID, "language", solved.Language)
		}
	}
	if err := h.rag.IndexSolvedIssue(ctx, solved); err != nil {
		slog.Warn("Failed to index solved issue for similarity search", "error", err, "user_id", userID, "issue_url", solved.IssueURL)
	}

	slog.Info("Issue marked solved", "user_id", userID, "issue_url", solved.IssueURL, "language", solved.Language)
	JSON(w, http.StatusCreated, map[string]interface{}{
		"solved": solved,
	})
}

// History returns the user's solved history, newest first.
func (h *IssuesHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	solved, err := h.repo.GetSolvedIssues(r.Context(), userID, limit)
	if err != nil {
		slog.Error("Failed to load solved history", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if solved == nil {
		solved = []domain.SolvedIssue{}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"solved": solved,
		"count":  len(solved),
	})
}
