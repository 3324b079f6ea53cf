package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/osscout/scout/internal/domain"
	"github.com/osscout/scout/internal/identity"
)

// maxPreferredLanguages caps how many languages a profile may list.
const maxPreferredLanguages = 10

// ProfileHandler handles the current-user endpoints.
type ProfileHandler struct {
	*Handler
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(base *Handler) *ProfileHandler {
	return &ProfileHandler{Handler: base}
}

// RegisterRoutes registers profile routes.
func (h *ProfileHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/profile", h.GetProfile)
		r.Put("/profile", h.UpdateProfile)
	})
}

// GetMe returns the current user's identity summary.
func (h *ProfileHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":             user.UserID,
		"username":            user.Username,
		"registered":          user.IsRegistered(),
		"level":               user.Level,
		"preferred_languages": user.PreferredLanguages,
	})
}

// GetProfile returns the full profile: user record, per-language skills, and
// the solved-history aggregate.
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
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
		slog.Error("Failed to load user skills", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	stats, err := h.repo.GetUserStats(ctx, userID)
	if err != nil {
		slog.Error("Failed to load user stats", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user":   user,
		"skills": skills,
		"stats":  stats,
	})
}

type updateProfileRequest struct {
	PreferredLanguages []string `json:"preferred_languages"`
	Level              string   `json:"level"`
}

// UpdateProfile sets the user's preferred languages and self-reported level.
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	level := domain.SkillLevel(strings.ToLower(strings.TrimSpace(req.Level)))
	switch level {
	case domain.LevelBeginner, domain.LevelIntermediate, domain.LevelAdvanced:
	default:
		Error(w, http.StatusBadRequest, "level must be beginner, intermediate, or advanced")
		return
	}

	languages := normalizeLanguages(req.PreferredLanguages)
	if len(languages) > maxPreferredLanguages {
		Error(w, http.StatusBadRequest, "too many preferred languages")
		return
	}

	if err := h.repo.UpdateUserProfile(r.Context(), userID, languages, level); err != nil {
		slog.Error("Failed to update profile", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	slog.Info("Profile updated", "user_id", userID, "level", level, "languages", len(languages))
	JSON(w, http.StatusOK, map[string]interface{}{
		"preferred_languages": languages,
		"level":               level,
	})
}

// normalizeLanguages lowercases, trims, and dedupes a language list, keeping
// the caller's order.
func normalizeLanguages(langs []string) []string {
	seen := make(map[string]bool, len(langs))
	out := make([]string, 0, len(langs))
	for _, lang := range langs {
		lang = strings.ToLower(strings.TrimSpace(lang))
		if lang == "" || seen[lang] {
			continue
		}
		seen[lang] = true
		out = append(out, lang)
	}
	return out
}
