package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osscout/scout/internal/identity"
)

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func authCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == identity.AuthCookieName {
			return c
		}
	}
	return nil
}

func TestRegisterUpgradesAnonymousUser(t *testing.T) {
	repo := newTestRepo(t)
	router, _ := testRouter(t, repo, &fakeFetcher{})
	seedUser(t, repo, "anon_1")

	rr := doJSON(t, router, asUser(postJSON("/api/auth/register",
		`{"username": "octocat", "password": "hunter2", "email": "octo@example.com"}`), "anon_1", false))

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "anon_1", resp["user_id"])
	assert.Equal(t, "octocat", resp["username"])
	assert.Equal(t, true, resp["registered"])

	cookie := authCookie(t, rr)
	require.NotNil(t, cookie, "registration must set the auth cookie")
	assert.True(t, cookie.HttpOnly)
	assert.NotEmpty(t, cookie.Value)

	// The upgraded account keeps its user ID, so prior history survives.
	user, err := repo.GetUserByUsername(context.Background(), "octocat")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "anon_1", user.UserID)
	assert.True(t, user.IsRegistered())
	assert.NotEqual(t, "hunter2", user.PasswordHash, "password must be stored hashed")
}

func TestRegisterValidation(t *testing.T) {
	repo := newTestRepo(t)
	router, _ := testRouter(t, repo, &fakeFetcher{})
	seedUser(t, repo, "anon_1")

	cases := []struct {
		name string
		body string
		want int
	}{
		{"short username", `{"username": "ab", "password": "hunter2"}`, http.StatusBadRequest},
		{"short password", `{"username": "octocat", "password": "abc"}`, http.StatusBadRequest},
		{"bad email", `{"username": "octocat", "password": "hunter2", "email": "not-an-email"}`, http.StatusBadRequest},
		{"bad username chars", `{"username": "oc to cat", "password": "hunter2"}`, http.StatusBadRequest},
		{"malformed json", `{nope`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doJSON(t, router, asUser(postJSON("/api/auth/register", tc.body), "anon_1", false))
			assert.Equal(t, tc.want, rr.Code, rr.Body.String())
		})
	}
}

func TestRegisterRejectsTakenUsername(t *testing.T) {
	repo := newTestRepo(t)
	router, _ := testRouter(t, repo, &fakeFetcher{})
	seedUser(t, repo, "anon_1")
	seedUser(t, repo, "anon_2")

	first := doJSON(t, router, asUser(postJSON("/api/auth/register",
		`{"username": "octocat", "password": "hunter2"}`), "anon_1", false))
	require.Equal(t, http.StatusCreated, first.Code)

	second := doJSON(t, router, asUser(postJSON("/api/auth/register",
		`{"username": "octocat", "password": "hunter2"}`), "anon_2", false))
	assert.Equal(t, http.StatusConflict, second.Code)
}

func TestRegisterRejectsLoggedInUser(t *testing.T) {
	repo := newTestRepo(t)
	router, _ := testRouter(t, repo, &fakeFetcher{})
	seedUser(t, repo, "anon_1")

	rr := doJSON(t, router, asUser(postJSON("/api/auth/register",
		`{"username": "octocat", "password": "hunter2"}`), "anon_1", true))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLoginAndLogout(t *testing.T) {
	repo := newTestRepo(t)
	router, _ := testRouter(t, repo, &fakeFetcher{})
	seedUser(t, repo, "anon_1")

	reg := doJSON(t, router, asUser(postJSON("/api/auth/register",
		`{"username": "octocat", "password": "hunter2"}`), "anon_1", false))
	require.Equal(t, http.StatusCreated, reg.Code)

	login := doJSON(t, router, postJSON("/api/auth/login", `{"username": "octocat", "password": "hunter2"}`))
	require.Equal(t, http.StatusOK, login.Code, login.Body.String())

	cookie := authCookie(t, login)
	require.NotNil(t, cookie)
	require.NotEmpty(t, cookie.Value)

	session, err := repo.GetAuthSession(context.Background(), cookie.Value)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "anon_1", session.UserID)

	// Logout deletes the session and expires the cookie.
	logoutReq := postJSON("/api/auth/logout", "")
	logoutReq.AddCookie(&http.Cookie{Name: identity.AuthCookieName, Value: cookie.Value})
	logout := doJSON(t, router, logoutReq)
	require.Equal(t, http.StatusNoContent, logout.Code)

	cleared := authCookie(t, logout)
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)

	gone, err := repo.GetAuthSession(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	repo := newTestRepo(t)
	router, _ := testRouter(t, repo, &fakeFetcher{})
	seedUser(t, repo, "anon_1")

	reg := doJSON(t, router, asUser(postJSON("/api/auth/register",
		`{"username": "octocat", "password": "hunter2"}`), "anon_1", false))
	require.Equal(t, http.StatusCreated, reg.Code)

	wrongPassword := doJSON(t, router, postJSON("/api/auth/login",
		`{"username": "octocat", "password": "wrong"}`))
	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)

	unknownUser := doJSON(t, router, postJSON("/api/auth/login",
		`{"username": "nobody", "password": "hunter2"}`))
	assert.Equal(t, http.StatusUnauthorized, unknownUser.Code)

	// Anonymous accounts have no password and can never be logged into.
	anon := doJSON(t, router, postJSON("/api/auth/login",
		`{"username": "scout-anon_1", "password": ""}`))
	assert.Equal(t, http.StatusUnauthorized, anon.Code)
}

func TestLogoutWithoutSession(t *testing.T) {
	repo := newTestRepo(t)
	router, _ := testRouter(t, repo, &fakeFetcher{})

	rr := doJSON(t, router, postJSON("/api/auth/logout", ""))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}
