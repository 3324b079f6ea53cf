package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/osscout/scout/internal/domain"
	"github.com/osscout/scout/internal/identity"
)

// wsError is the error frame sent when a websocket message cannot be served.
type wsError struct {
	Error string `json:"error"`
}

// HandleWebSocket handles GET /api/chat/ws: each client frame is one chat
// request, each server frame one chat response, with the same semantics as
// POST /api/chat.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.wsOrigins,
	})
	if err != nil {
		h.logger.Warn("Websocket accept failed", "user_id", userID, "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Websocket close failed", "user_id", userID, "error", closeErr)
		}
	}()
	ws.SetReadLimit(maxRequestBodySize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	reqID := chiMiddleware.GetReqID(r.Context())
	h.logger.Info("Chat websocket connected", "user_id", userID, "request_id", reqID)

	for {
		_, payload, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("Chat websocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				h.logger.Warn("Chat websocket read failed", "user_id", userID, "error", err)
			}
			return
		}

		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			h.wsWriteJSON(ctx, ws, userID, wsError{Error: "invalid request"})
			continue
		}

		if !h.rateLimiter.Allow(userID) {
			h.wsWriteJSON(ctx, ws, userID, wsError{Error: "rate limit exceeded"})
			continue
		}

		resp, err := h.service.HandleMessage(ctx, userID, req)
		if err != nil {
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				h.wsWriteJSON(ctx, ws, userID, wsError{Error: verr.Error()})
			} else {
				h.logger.Error("Chat websocket request failed", "user_id", userID, "error", err)
				h.wsWriteJSON(ctx, ws, userID, wsError{Error: "internal error"})
			}
			continue
		}

		h.logTurn(userID, resp.SessionID, "chat_ws", req.Message, resp, reqID)
		h.wsWriteJSON(ctx, ws, userID, resp)
	}
}

func (h *Handler) wsWriteJSON(ctx context.Context, ws *websocket.Conn, userID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("Websocket marshal failed", "user_id", userID, "error", err)
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil && ctx.Err() == nil {
		h.logger.Debug("Websocket write failed", "user_id", userID, "error", err)
	}
}
