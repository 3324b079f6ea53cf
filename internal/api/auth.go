package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/osscout/scout/internal/domain"
	"github.com/osscout/scout/internal/identity"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 32
	minPasswordLength = 4

	// bcryptCost is the cost factor for password hashing.
	bcryptCost = 12
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// AuthHandler handles registration, login, and logout.
type AuthHandler struct {
	*Handler
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(base *Handler) *AuthHandler {
	return &AuthHandler{Handler: base}
}

// RegisterRoutes registers auth routes.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
	})
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register upgrades the current anonymous user into a registered account.
// Solved history and skills earned while anonymous carry over because the
// user ID stays the same.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if identity.IsRegisteredFromContext(r.Context()) {
		Error(w, http.StatusBadRequest, "already logged in")
		return
	}

	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	username, msg := validateUsername(req.Username)
	if msg != "" {
		Error(w, http.StatusBadRequest, msg)
		return
	}
	if len(req.Password) < minPasswordLength {
		Error(w, http.StatusBadRequest, "password must be at least 4 characters")
		return
	}
	if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			Error(w, http.StatusBadRequest, "invalid email address")
			return
		}
	}

	ctx := r.Context()
	existing, err := h.repo.GetUserByUsername(ctx, username)
	if err != nil {
		slog.Error("Failed to check username availability", "error", err)
		Error(w, http.StatusInternalServerError, "registration failed")
		return
	}
	if existing != nil && existing.UserID != userID {
		Error(w, http.StatusConflict, "username already taken")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		Error(w, http.StatusInternalServerError, "registration failed")
		return
	}

	now := time.Now()
	user, err := h.repo.GetUser(ctx, userID)
	if err != nil {
		slog.Error("Failed to load user for registration", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "registration failed")
		return
	}
	if user == nil {
		user = &domain.User{UserID: userID, Level: domain.LevelBeginner, CreatedAt: now}
	}
	user.Username = username
	user.Email = req.Email
	user.PasswordHash = string(hash)
	user.LastSeenAt = now
	user.UpdatedAt = now

	if err := h.repo.UpsertUser(ctx, user); err != nil {
		slog.Error("Failed to save registered user", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "registration failed")
		return
	}

	if err := h.startSession(ctx, w, userID); err != nil {
		slog.Error("Failed to start login session", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "registration failed")
		return
	}

	slog.Info("User registered", "user_id", userID, "username", username)
	JSON(w, http.StatusCreated, map[string]interface{}{
		"user_id":    userID,
		"username":   username,
		"registered": true,
	})
}

// Login verifies credentials and starts a login session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	user, err := h.repo.GetUserByUsername(ctx, req.Username)
	if err != nil {
		slog.Error("Failed to look up user for login", "error", err)
		Error(w, http.StatusInternalServerError, "login failed")
		return
	}
	if user == nil || user.PasswordHash == "" {
		Error(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		Error(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	if err := h.startSession(ctx, w, user.UserID); err != nil {
		slog.Error("Failed to start login session", "error", err, "user_id", user.UserID)
		Error(w, http.StatusInternalServerError, "login failed")
		return
	}
	if err := h.repo.UpdateLastSeen(ctx, user.UserID, time.Now()); err != nil {
		slog.Warn("Failed to update last seen on login", "error", err, "user_id", user.UserID)
	}

	slog.Info("User logged in", "user_id", user.UserID, "username", user.Username)
	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    user.UserID,
		"username":   user.Username,
		"registered": true,
	})
}

// Logout ends the current login session. Safe to call without one.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(identity.AuthCookieName); err == nil && c.Value != "" {
		if err := h.repo.DeleteAuthSession(r.Context(), c.Value); err != nil {
			slog.Warn("Failed to delete login session", "error", err)
		}
	}
	identity.ClearAuthCookie(w, h.isDevelopment())
	w.WriteHeader(http.StatusNoContent)
}

// startSession creates a login session row and attaches its token cookie.
func (h *AuthHandler) startSession(ctx context.Context, w http.ResponseWriter, userID string) error {
	token, err := identity.NewAuthToken()
	if err != nil {
		return err
	}
	now := time.Now()
	if err := h.repo.CreateAuthSession(ctx, &domain.AuthSession{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(h.cfg.AuthSessionTTL),
	}); err != nil {
		return err
	}
	identity.SetAuthCookie(w, token, h.cfg.AuthSessionTTL, h.isDevelopment())
	return nil
}

// validateUsername normalizes and validates a requested username, returning
// the cleaned value or a client-facing rejection message.
func validateUsername(username string) (string, string) {
	username = strings.TrimSpace(username)
	switch {
	case len(username) < minUsernameLength:
		return "", "username must be at least 3 characters"
	case len(username) > maxUsernameLength:
		return "", "username must be at most 32 characters"
	case !usernamePattern.MatchString(username):
		return "", "username may only contain letters, digits, dots, dashes, and underscores"
	}
	return username, ""
}
