package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/osscout/scout/internal/config"
	"github.com/osscout/scout/internal/domain"
	"github.com/osscout/scout/internal/identity"
	"github.com/osscout/scout/internal/rag"
	"github.com/osscout/scout/internal/recommend"
	"github.com/osscout/scout/internal/search"
	"github.com/osscout/scout/internal/store"
)

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "scout.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("close repo: %v", err)
		}
	})
	return repo
}

func testConfig() *config.Config {
	return &config.Config{
		Port:           "0",
		DBPath:         "ignored",
		AuthSessionTTL: time.Hour,
		IssueCacheTTL:  24 * time.Hour,
	}
}

// asUser attaches a resolved identity, standing in for the identity
// middleware.
func asUser(req *http.Request, userID string, registered bool) *http.Request {
	return req.WithContext(identity.WithUser(req.Context(), userID, "tester", registered))
}

func seedUser(t *testing.T, repo store.Repository, userID string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, repo.UpsertUser(context.Background(), &domain.User{
		UserID:     userID,
		Username:   "scout-" + userID,
		Level:      domain.LevelBeginner,
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))
}

func seedIssue(t *testing.T, repo store.Repository, url, language string, difficulty domain.SkillLevel, stars int) {
	t.Helper()
	require.NoError(t, repo.UpsertIssues(context.Background(), []*domain.Issue{{
		URL:        url,
		Title:      "Fix something in " + language,
		RepoName:   "acme/widgets",
		Language:   language,
		Labels:     []string{"good first issue"},
		Stars:      stars,
		Difficulty: difficulty,
		CreatedAt:  time.Now().Add(-48 * time.Hour),
		FetchedAt:  time.Now(),
	}}))
}

// fakeFetcher serves canned live search results.
type fakeFetcher struct {
	issues []*domain.Issue
	err    error
	calls  int
}

func (f *fakeFetcher) SearchGoodFirstIssues(ctx context.Context, language, terms string, perPage int) ([]*domain.Issue, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.issues, nil
}

func (f *fakeFetcher) ResolveStars(ctx context.Context, issues []*domain.Issue) {}

// testRouter wires every API handler over the given repo the way cmd/server
// does.
func testRouter(t *testing.T, repo store.Repository, fetcher search.IssueFetcher) (*chi.Mux, *search.Service) {
	t.Helper()
	cfg := testConfig()
	base := NewHandler(repo, cfg)
	searchSvc := search.NewService(repo, fetcher, 2)
	ragStore := rag.New(repo, nil)
	pipeline := recommend.NewPipeline(recommend.NewScorer(nil))

	r := chi.NewRouter()
	NewAuthHandler(base).RegisterRoutes(r)
	NewProfileHandler(base).RegisterRoutes(r)
	NewIssuesHandler(base, searchSvc, ragStore).RegisterRoutes(r)
	NewDashboardHandler(base, searchSvc, pipeline, ragStore).RegisterRoutes(r)
	NewHealthHandler(repo, cfg, "test").RegisterRoutes(r)
	return r, searchSvc
}

func doJSON(t *testing.T, router *chi.Mux, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func jsonBody(s string) *strings.Reader {
	return strings.NewReader(s)
}
