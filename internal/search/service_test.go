package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/osscout/scout/internal/domain"
	"github.com/osscout/scout/internal/store"
)

type fakeFetcher struct {
	issues     []*domain.Issue
	err        error
	calls      int
	starsCalls int
}

func (f *fakeFetcher) SearchGoodFirstIssues(_ context.Context, _, _ string, _ int) ([]*domain.Issue, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.issues, nil
}

func (f *fakeFetcher) ResolveStars(_ context.Context, _ []*domain.Issue) {
	f.starsCalls++
}

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "scout.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func cacheIssue(url, title string, stars int, created time.Time) *domain.Issue {
	return &domain.Issue{
		URL:        url,
		Title:      title,
		RepoName:   "acme/widgets",
		Language:   "python",
		Labels:     []string{"good first issue"},
		Stars:      stars,
		Difficulty: domain.LevelBeginner,
		CreatedAt:  created,
		FetchedAt:  time.Now(),
	}
}

func seedCache(t *testing.T, repo store.Repository, issues ...*domain.Issue) {
	t.Helper()
	if err := repo.UpsertIssues(context.Background(), issues); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}
}

func TestSearchServesCacheWhenSufficient(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UTC().Truncate(time.Second)

	var seeded []*domain.Issue
	for i := 0; i < 5; i++ {
		seeded = append(seeded, cacheIssue(
			"https://github.com/acme/widgets/issues/"+string(rune('1'+i)),
			"Cached issue", i*100, now.Add(-time.Duration(i)*time.Hour)))
	}
	seedCache(t, repo, seeded...)

	fetcher := &fakeFetcher{}
	svc := NewService(repo, fetcher, 5)

	results, err := svc.Search(context.Background(), Query{Language: "python"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 cached results, got %d", len(results))
	}
	if fetcher.calls != 0 {
		t.Errorf("expected no live fetch with a warm cache, got %d calls", fetcher.calls)
	}
	// Stars descending.
	if results[0].Stars != 400 {
		t.Errorf("expected highest-starred issue first, got %d stars", results[0].Stars)
	}
}

func TestSearchTopsUpFromLiveWhenCacheThin(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	seedCache(t, repo, cacheIssue("https://github.com/acme/widgets/issues/1", "Cached issue", 10, now))

	fetcher := &fakeFetcher{issues: []*domain.Issue{
		cacheIssue("https://github.com/acme/widgets/issues/2", "Live issue two", 500, now),
		cacheIssue("https://github.com/acme/widgets/issues/3", "Live issue three", 50, now),
	}}
	svc := NewService(repo, fetcher, 5)

	results, err := svc.Search(ctx, Query{Language: "python"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected one live fetch, got %d", fetcher.calls)
	}
	if fetcher.starsCalls != 1 {
		t.Errorf("expected star resolution for live results, got %d calls", fetcher.starsCalls)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 merged results, got %d", len(results))
	}
	if results[0].Title != "Live issue two" {
		t.Errorf("expected highest-starred live issue first, got %q", results[0].Title)
	}

	// Fetched issues land in the cache for next time.
	count, err := repo.CountCachedIssues(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 cached issues after top-up, got %d", count)
	}
}

func TestSearchDeduplicatesPreferringCached(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UTC().Truncate(time.Second)

	shared := "https://github.com/acme/widgets/issues/1"
	seedCache(t, repo, cacheIssue(shared, "Cached copy", 10, now))

	fetcher := &fakeFetcher{issues: []*domain.Issue{
		cacheIssue(shared, "Live copy", 10, now),
	}}
	svc := NewService(repo, fetcher, 5)

	results, err := svc.Search(context.Background(), Query{Language: "python"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected the shared issue exactly once, got %d results", len(results))
	}
	if results[0].Title != "Cached copy" {
		t.Errorf("expected the cached copy to win, got %q", results[0].Title)
	}
}

func TestSearchLiveFailureDegradesToCache(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UTC().Truncate(time.Second)

	seedCache(t, repo, cacheIssue("https://github.com/acme/widgets/issues/1", "Cached issue", 10, now))

	fetcher := &fakeFetcher{err: errors.New("rate limited")}
	svc := NewService(repo, fetcher, 5)

	results, err := svc.Search(context.Background(), Query{Language: "python"})
	if err != nil {
		t.Fatalf("expected cache fallback, got error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 cached result, got %d", len(results))
	}
}

func TestSearchLiveFailureWithEmptyCacheReturnsError(t *testing.T) {
	repo := newTestRepo(t)

	fetcher := &fakeFetcher{err: errors.New("rate limited")}
	svc := NewService(repo, fetcher, 5)

	if _, err := svc.Search(context.Background(), Query{Language: "python"}); err == nil {
		t.Fatal("expected error when live fetch fails with nothing cached")
	}
}

func TestSearchFiltersLiveResultsByDifficulty(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UTC().Truncate(time.Second)

	hard := cacheIssue("https://github.com/acme/widgets/issues/2", "Advanced live issue", 5, now)
	hard.Difficulty = domain.LevelAdvanced

	fetcher := &fakeFetcher{issues: []*domain.Issue{
		cacheIssue("https://github.com/acme/widgets/issues/1", "Beginner live issue", 5, now),
		hard,
	}}
	svc := NewService(repo, fetcher, 5)

	results, err := svc.Search(context.Background(), Query{Language: "python", Difficulty: domain.LevelBeginner})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected only the beginner issue, got %d results", len(results))
	}
	if results[0].Title != "Beginner live issue" {
		t.Errorf("unexpected result: %q", results[0].Title)
	}
}

func TestSearchCapsResults(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UTC().Truncate(time.Second)

	var seeded []*domain.Issue
	for i := 0; i < 12; i++ {
		seeded = append(seeded, cacheIssue(
			"https://github.com/acme/widgets/issues/"+string(rune('a'+i)),
			"Cached issue", i, now))
	}
	seedCache(t, repo, seeded...)

	svc := NewService(repo, &fakeFetcher{}, 5)

	results, err := svc.Search(context.Background(), Query{Language: "python"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != DefaultLimit {
		t.Errorf("expected default cap of %d, got %d", DefaultLimit, len(results))
	}

	results, err = svc.Search(context.Background(), Query{Language: "python", Limit: 3})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("expected 3 results, got %d", len(results))
	}
}

func TestSearchRecordsTrendingTerms(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewService(repo, &fakeFetcher{}, 1)
	ctx := context.Background()

	queries := []Query{
		{Language: "Python"},
		{Language: "python"},
		{Language: "go"},
		{Language: "python", Terms: "web scraping"},
	}
	for _, q := range queries {
		if _, err := svc.Search(ctx, q); err != nil {
			t.Fatalf("search failed: %v", err)
		}
	}

	top := svc.Trending(5)
	if len(top) != 3 {
		t.Fatalf("expected 3 trending terms, got %v", top)
	}
	if top[0].Term != "python" || top[0].Count != 2 {
		t.Errorf("expected python twice at the top, got %+v", top[0])
	}
}
