// Package search implements hybrid issue search: the local cache answers
// first, and live GitHub results top it up when the cache runs thin. Every
// query also feeds the trending ring shown on the dashboard.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/osscout/scout/internal/domain"
	"github.com/osscout/scout/internal/store"
)

const (
	// DefaultLimit caps how many issues one search returns.
	DefaultLimit = 10

	// liveFetchSize is how many issues a live top-up requests from GitHub.
	liveFetchSize = 30
)

// IssueFetcher is the live-search surface of the GitHub client.
type IssueFetcher interface {
	SearchGoodFirstIssues(ctx context.Context, language, terms string, perPage int) ([]*domain.Issue, error)
	ResolveStars(ctx context.Context, issues []*domain.Issue)
}

// Query describes one hybrid search.
type Query struct {
	Language   string
	Difficulty domain.SkillLevel
	Terms      string
	Limit      int
}

// Service answers issue searches from the cache plus live GitHub top-ups.
type Service struct {
	repo      store.Repository
	fetcher   IssueFetcher
	trending  *TrendingRing
	minCached int
}

// NewService creates a hybrid search service. minCached is the cache-result
// count below which a live top-up fires; <= 0 uses 5.
func NewService(repo store.Repository, fetcher IssueFetcher, minCached int) *Service {
	if minCached <= 0 {
		minCached = 5
	}
	return &Service{
		repo:      repo,
		fetcher:   fetcher,
		trending:  NewTrendingRing(0),
		minCached: minCached,
	}
}

// MinCached returns the cache-result count below which a live top-up fires.
func (s *Service) MinCached() int {
	return s.minCached
}

// Search runs a hybrid search. The cache answers first; when it returns fewer
// than the configured minimum, live GitHub results are fetched, cached, and
// merged in. An issue present in both sources appears once, as its cached
// copy. Results order by stars, then recency, then URL, capped at the query
// limit.
func (s *Service) Search(ctx context.Context, q Query) ([]*domain.Issue, error) {
	limit := q.Limit
	if limit <= 0 || limit > DefaultLimit {
		limit = DefaultLimit
	}

	cached, cacheErr := s.Cached(ctx, q)
	if cacheErr != nil {
		slog.Warn("Cached issue search failed; trying live results", "error", cacheErr)
	}

	merged := make([]*domain.Issue, 0, len(cached)+liveFetchSize)
	merged = append(merged, cached...)

	if len(cached) < s.minCached {
		live, err := s.LiveTopUp(ctx, q, urlSet(cached))
		switch {
		case err != nil && len(merged) == 0:
			// Nothing cached to fall back on.
			return nil, fmt.Errorf("issue search failed: %w", err)
		case err != nil:
			slog.Warn("Live issue search failed; serving cached results only", "error", err)
		default:
			merged = append(merged, live...)
		}
	}

	SortIssues(merged)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// Cached answers q from the local cache only: deduplicated by URL and sorted,
// without the live top-up. Each call records the query's terms in the
// trending ring.
func (s *Service) Cached(ctx context.Context, q Query) ([]*domain.Issue, error) {
	s.recordTrending(q)

	cached, err := s.repo.SearchCachedIssues(ctx, store.IssueFilter{
		Language:   q.Language,
		Difficulty: q.Difficulty,
		Query:      q.Terms,
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(cached))
	deduped := cached[:0]
	for _, issue := range cached {
		if seen[issue.URL] {
			continue
		}
		seen[issue.URL] = true
		deduped = append(deduped, issue)
	}
	SortIssues(deduped)
	return deduped, nil
}

// LiveTopUp fetches fresh GitHub results for q, resolves repository stars,
// and upserts them into the cache. Issues whose URL appears in exclude and
// issues that miss the query's difficulty filter are dropped from the return,
// so callers can merge the result directly under their cached set.
func (s *Service) LiveTopUp(ctx context.Context, q Query, exclude map[string]bool) ([]*domain.Issue, error) {
	live, err := s.fetcher.SearchGoodFirstIssues(ctx, q.Language, q.Terms, liveFetchSize)
	if err != nil {
		return nil, err
	}
	s.fetcher.ResolveStars(ctx, live)
	if err := s.repo.UpsertIssues(ctx, live); err != nil {
		slog.Warn("Failed to cache fetched issues", "count", len(live), "error", err)
	}

	fresh := make([]*domain.Issue, 0, len(live))
	seen := make(map[string]bool, len(live))
	for _, issue := range live {
		if exclude[issue.URL] || seen[issue.URL] {
			continue
		}
		if q.Difficulty != "" && issue.Difficulty != q.Difficulty {
			continue
		}
		seen[issue.URL] = true
		fresh = append(fresh, issue)
	}
	SortIssues(fresh)
	return fresh, nil
}

// Trending returns the current top search terms with their counts.
func (s *Service) Trending(n int) []TermCount {
	return s.trending.Top(n)
}

func (s *Service) recordTrending(q Query) {
	parts := make([]string, 0, 2)
	if lang := strings.TrimSpace(q.Language); lang != "" {
		parts = append(parts, lang)
	}
	if terms := strings.TrimSpace(q.Terms); terms != "" {
		parts = append(parts, terms)
	}
	s.trending.Record(strings.Join(parts, " "))
}

// SortIssues orders by stars descending, then creation time newest-first,
// then URL for determinism.
func SortIssues(issues []*domain.Issue) {
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Stars != issues[j].Stars {
			return issues[i].Stars > issues[j].Stars
		}
		if !issues[i].CreatedAt.Equal(issues[j].CreatedAt) {
			return issues[i].CreatedAt.After(issues[j].CreatedAt)
		}
		return issues[i].URL < issues[j].URL
	})
}

func urlSet(issues []*domain.Issue) map[string]bool {
	set := make(map[string]bool, len(issues))
	for _, issue := range issues {
		set[issue.URL] = true
	}
	return set
}
