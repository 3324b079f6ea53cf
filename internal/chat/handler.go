package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/osscout/scout/internal/domain"
	"github.com/osscout/scout/internal/identity"
)

// maxRequestBodySize bounds one chat request body (1MB).
const maxRequestBodySize = 1 << 20

// defaultHistoryLimit is how many turns the history endpoint returns when the
// client does not ask for a specific count.
const defaultHistoryLimit = 50

// Handler exposes the assistant over HTTP and websocket.
type Handler struct {
	service     *Service
	rateLimiter *RateLimiter
	transcript  TranscriptSink
	wsOrigins   []string
	logger      *slog.Logger
}

// NewHandler builds the chat handler. transcript may be nil; wsOrigins lists
// the origins the websocket endpoint accepts (empty allows same-origin only).
func NewHandler(service *Service, rateLimiter *RateLimiter, transcript TranscriptSink, wsOrigins []string, logger *slog.Logger) *Handler {
	if transcript == nil {
		transcript = NopTranscript{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:     service,
		rateLimiter: rateLimiter,
		transcript:  transcript,
		wsOrigins:   wsOrigins,
		logger:      logger,
	}
}

// RegisterRoutes mounts the chat endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/", h.HandleMessage)
		r.Post("/clear", h.HandleClear)
		r.Get("/history", h.HandleHistory)
		r.Get("/ws", h.HandleWebSocket)
	})
}

// Close releases handler resources.
func (h *Handler) Close() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
	if err := h.transcript.Close(); err != nil {
		h.logger.Warn("Failed to close transcript logger", "error", err)
	}
}

// HandleMessage handles POST /api/chat.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	if !h.rateLimiter.Allow(userID) {
		http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, `{"error": "request body too large"}`, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	resp, err := h.service.HandleMessage(r.Context(), userID, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	reqID := chiMiddleware.GetReqID(r.Context())
	h.logTurn(userID, resp.SessionID, "chat_http", req.Message, resp, reqID)

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleClear handles POST /api/chat/clear. Clearing an unknown session
// still answers 204.
func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, `{"error": "session_id is required"}`, http.StatusBadRequest)
		return
	}

	if err := h.service.Clear(r.Context(), userID, req.SessionID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleHistory handles GET /api/chat/history?session_id=&limit=.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, `{"error": "session_id is required"}`, http.StatusBadRequest)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, `{"error": "limit must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	entries, err := h.service.History(r.Context(), userID, sessionID, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   entries,
	})
}

// logTurn records both sides of one exchange in the transcript.
func (h *Handler) logTurn(userID, sessionID, channel, userMessage string, resp *Response, requestID string) {
	h.transcript.Log(TranscriptEvent{
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    channel,
		Direction:  "inbound",
		EventType:  "chat_user_message",
		ContentRaw: userMessage,
		Meta: map[string]any{
			"request_id": requestID,
		},
	})
	h.transcript.Log(TranscriptEvent{
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    channel,
		Direction:  "outbound",
		EventType:  "chat_assistant_message",
		ContentRaw: resp.Reply,
		Meta: map[string]any{
			"request_id": requestID,
			"intent":     string(resp.Intent),
			"sources":    len(resp.Sources),
			"recorded":   resp.Recorded,
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("Failed to encode response", "error", err)
	}
}

// writeServiceError maps pipeline errors onto HTTP statuses without leaking
// internals: validation reasons are client-safe, everything else is generic.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		http.Error(w, fmt.Sprintf(`{"error": %q}`, verr.Error()), http.StatusBadRequest)
		return
	}
	h.logger.Error("Chat request failed", "error", err)
	http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
}
