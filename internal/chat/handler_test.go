package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osscout/scout/internal/identity"
	"github.com/osscout/scout/internal/store"
)

func newTestHandler(t *testing.T, repo store.Repository, transcript TranscriptSink, rateLimit int) (*Handler, *chi.Mux) {
	t.Helper()
	h := NewHandler(
		newTestService(t, repo, &fakeLLM{reply: "here you go"}),
		NewRateLimiter(rateLimit, time.Minute),
		transcript,
		nil,
		slog.Default(),
	)
	t.Cleanup(h.Close)

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return h, r
}

func chatRequest(t *testing.T, userID, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req = req.WithContext(identity.WithUser(req.Context(), userID, "tester", false))
	}
	return req
}

func TestHandleMessageEndToEnd(t *testing.T) {
	repo := newChatTestRepo(t)
	_, router := newTestHandler(t, repo, nil, 10)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, chatRequest(t, "user_1", `{"message": "show my stats"}`))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "here you go", resp.Reply)
	assert.Equal(t, IntentGetStats, resp.Intent)
	assert.NotEmpty(t, resp.SessionID)
	assert.True(t, resp.Recorded)

	count, err := repo.CountMessages(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestHandleMessageRequiresIdentity(t *testing.T) {
	_, router := newTestHandler(t, newChatTestRepo(t), nil, 10)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, chatRequest(t, "", `{"message": "hello"}`))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandleMessageRejectsBadInput(t *testing.T) {
	_, router := newTestHandler(t, newChatTestRepo(t), nil, 10)

	cases := []struct {
		name string
		body string
	}{
		{"empty message", `{"message": ""}`},
		{"malformed json", `{nope`},
		{"bad session id", `{"message": "hi", "session_id": "has spaces!"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, chatRequest(t, "user_1", tc.body))

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, rr.Body.String(), "error")
		})
	}
}

func TestHandleMessageRateLimited(t *testing.T) {
	_, router := newTestHandler(t, newChatTestRepo(t), nil, 2)

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, chatRequest(t, "user_1", `{"message": "hello"}`))
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, chatRequest(t, "user_1", `{"message": "hello"}`))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	// A different user is unaffected.
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, chatRequest(t, "user_2", `{"message": "hello"}`))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleClear(t *testing.T) {
	repo := newChatTestRepo(t)
	_, router := newTestHandler(t, repo, nil, 10)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, chatRequest(t, "user_1", `{"message": "hello"}`))
	require.Equal(t, http.StatusOK, rr.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	clear := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/chat/clear",
			strings.NewReader(`{"session_id": "`+resp.SessionID+`"}`))
		req = req.WithContext(identity.WithUser(req.Context(), "user_1", "tester", false))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusNoContent, clear().Code)

	count, err := repo.CountMessages(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Idempotent.
	assert.Equal(t, http.StatusNoContent, clear().Code)
}

func TestHandleClearRequiresSessionID(t *testing.T) {
	_, router := newTestHandler(t, newChatTestRepo(t), nil, 10)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/clear", strings.NewReader(`{}`))
	req = req.WithContext(identity.WithUser(req.Context(), "user_1", "tester", false))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleHistory(t *testing.T) {
	repo := newChatTestRepo(t)
	_, router := newTestHandler(t, repo, nil, 10)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, chatRequest(t, "user_1", `{"message": "hello"}`))
	require.Equal(t, http.StatusOK, rr.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	history := func(userID, sessionID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/chat/history?session_id="+sessionID, nil)
		req = req.WithContext(identity.WithUser(req.Context(), userID, "tester", false))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	got := history("user_1", resp.SessionID)
	require.Equal(t, http.StatusOK, got.Code)
	var payload struct {
		SessionID string         `json:"session_id"`
		Messages  []HistoryEntry `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &payload))
	assert.Equal(t, resp.SessionID, payload.SessionID)
	require.Len(t, payload.Messages, 2)

	// Someone else sees an empty list, not an error and not my messages.
	other := history("user_2", resp.SessionID)
	require.Equal(t, http.StatusOK, other.Code)
	assert.Contains(t, other.Body.String(), `"messages":[]`)
}

func TestHandleHistoryValidatesParams(t *testing.T) {
	_, router := newTestHandler(t, newChatTestRepo(t), nil, 10)

	cases := []struct {
		name string
		url  string
	}{
		{"missing session id", "/api/chat/history"},
		{"bad limit", "/api/chat/history?session_id=abc123&limit=nope"},
		{"negative limit", "/api/chat/history?session_id=abc123&limit=-1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.url, nil)
			req = req.WithContext(identity.WithUser(req.Context(), "user_1", "tester", false))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestHandlerRecordsTranscript(t *testing.T) {
	dir := t.TempDir()
	transcript, err := NewTranscriptLogger(TranscriptConfig{Enabled: true, Dir: dir, QueueSize: 16}, slog.Default())
	require.NoError(t, err)

	h, router := newTestHandler(t, newChatTestRepo(t), transcript, 10)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, chatRequest(t, "user_1", `{"message": "hello"}`))
	require.Equal(t, http.StatusOK, rr.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	h.Close()

	data, err := os.ReadFile(filepath.Join(dir, "user_1", resp.SessionID+".ndjson"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2, "one inbound and one outbound event per turn")

	var inbound, outbound TranscriptEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &inbound))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &outbound))
	assert.Equal(t, "inbound", inbound.Direction)
	assert.Equal(t, "hello", inbound.ContentRaw)
	assert.Equal(t, "chat_http", inbound.Channel)
	assert.Equal(t, "outbound", outbound.Direction)
	assert.Equal(t, "here you go", outbound.ContentRaw)
}
