// Package github provides a minimal client for the GitHub REST search API,
// tuned for discovering beginner-friendly open issues.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/osscout/scout/internal/domain"
)

const (
	defaultBaseURL = "https://api.github.com"
	maxPerPage     = 30
	bodyExcerptLen = 500

	// starsConcurrency bounds parallel repo lookups: the search API budget
	// is tight for unauthenticated clients.
	starsConcurrency = 4
)

// ErrRateLimited indicates GitHub rejected the request for quota reasons.
var ErrRateLimited = errors.New("github rate limit exceeded")

// Client calls the GitHub REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	mu    sync.Mutex
	stars map[string]int
}

// NewClient creates a GitHub API client. An empty token means
// unauthenticated requests with their much lower rate limits.
func NewClient(token string) *Client {
	return NewClientWithBaseURL(token, defaultBaseURL)
}

// NewClientWithBaseURL creates a client against a custom API endpoint.
func NewClientWithBaseURL(token, baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		stars: make(map[string]int),
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}
}

type searchResponse struct {
	TotalCount int `json:"total_count"`
	Items      []struct {
		ID            int64     `json:"id"`
		Title         string    `json:"title"`
		HTMLURL       string    `json:"html_url"`
		RepositoryURL string    `json:"repository_url"`
		Body          string    `json:"body"`
		Comments      int       `json:"comments"`
		CreatedAt     time.Time `json:"created_at"`
		Labels        []struct {
			Name string `json:"name"`
		} `json:"labels"`
	} `json:"items"`
}

type repoResponse struct {
	FullName        string `json:"full_name"`
	StargazersCount int    `json:"stargazers_count"`
	Language        string `json:"language"`
}

// SearchGoodFirstIssues queries open issues labeled "good first issue",
// newest first. Language and free-text terms narrow the query; either may be
// empty.
func (c *Client) SearchGoodFirstIssues(ctx context.Context, language, terms string, perPage int) ([]*domain.Issue, error) {
	if perPage <= 0 || perPage > maxPerPage {
		perPage = maxPerPage
	}

	queryParts := []string{`label:"good first issue"`, "state:open", "is:issue"}
	if language != "" {
		queryParts = append(queryParts, "language:"+language)
	}
	if terms = strings.TrimSpace(terms); terms != "" {
		queryParts = append(queryParts, terms)
	}

	params := url.Values{}
	params.Set("q", strings.Join(queryParts, " "))
	params.Set("sort", "created")
	params.Set("order", "desc")
	params.Set("per_page", strconv.Itoa(perPage))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search/issues?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github search failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusTooManyRequests:
		return nil, fmt.Errorf("search issues: %w", ErrRateLimited)
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("github search returned status %d: %s", resp.StatusCode, excerpt(string(body), 200))
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	now := time.Now()
	issues := make([]*domain.Issue, 0, len(result.Items))
	for _, item := range result.Items {
		if item.HTMLURL == "" {
			continue
		}
		labels := make([]string, 0, len(item.Labels))
		for _, l := range item.Labels {
			labels = append(labels, l.Name)
		}

		issues = append(issues, &domain.Issue{
			URL:         item.HTMLURL,
			GitHubID:    item.ID,
			Title:       item.Title,
			BodyExcerpt: excerpt(item.Body, bodyExcerptLen),
			RepoName:    repoNameFromURL(item.RepositoryURL),
			Language:    strings.ToLower(language),
			Labels:      labels,
			Comments:    item.Comments,
			Difficulty:  EstimateDifficulty(item.Title, labels, item.Body),
			CreatedAt:   item.CreatedAt,
			FetchedAt:   now,
		})
	}

	slog.Debug("GitHub issue search completed",
		"language", language,
		"terms", terms,
		"total", result.TotalCount,
		"returned", len(issues),
	)
	return issues, nil
}

// RepoStars returns the star count for "owner/repo", caching results for the
// lifetime of the client.
func (c *Client) RepoStars(ctx context.Context, repoName string) (int, error) {
	c.mu.Lock()
	if stars, ok := c.stars[repoName]; ok {
		c.mu.Unlock()
		return stars, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/repos/"+repoName, nil)
	if err != nil {
		return 0, fmt.Errorf("create repo request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("github repo lookup failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusTooManyRequests:
		return 0, fmt.Errorf("repo %s: %w", repoName, ErrRateLimited)
	default:
		return 0, fmt.Errorf("github repo lookup returned status %d for %s", resp.StatusCode, repoName)
	}

	var repo repoResponse
	if err := json.NewDecoder(resp.Body).Decode(&repo); err != nil {
		return 0, fmt.Errorf("decode repo response: %w", err)
	}

	c.mu.Lock()
	c.stars[repoName] = repo.StargazersCount
	c.mu.Unlock()
	return repo.StargazersCount, nil
}

// ResolveStars fills in star counts for every distinct repository referenced
// by the issues, with bounded concurrency. Lookup failures leave the star
// count at zero rather than failing the batch.
func (c *Client) ResolveStars(ctx context.Context, issues []*domain.Issue) {
	distinct := make(map[string][]*domain.Issue)
	for _, issue := range issues {
		if issue.RepoName == "" {
			continue
		}
		distinct[issue.RepoName] = append(distinct[issue.RepoName], issue)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(starsConcurrency)

	var mu sync.Mutex
	for repoName, repoIssues := range distinct {
		g.Go(func() error {
			stars, err := c.RepoStars(ctx, repoName)
			if err != nil {
				slog.Debug("Star lookup failed", "repo", repoName, "error", err)
				return nil
			}
			mu.Lock()
			for _, issue := range repoIssues {
				issue.Stars = stars
			}
			mu.Unlock()
			return nil
		})
	}

	// Workers never return errors; Wait only observes ctx cancellation.
	_ = g.Wait()
}

var (
	easyTerms = []string{
		"typo", "documentation", "docs", "readme", "beginner", "easy",
		"simple", "minor", "small", "first-timer", "good first issue",
	}
	hardTerms = []string{
		"complex", "refactor", "architecture", "performance", "security",
		"breaking", "major", "difficult", "advanced",
	}
)

// EstimateDifficulty derives a difficulty level from issue labels and text.
// Easy markers pull toward beginner, hard markers toward advanced; a long
// body also counts as a hardness signal.
func EstimateDifficulty(title string, labels []string, body string) domain.SkillLevel {
	lowerTitle := strings.ToLower(title)
	lowerLabels := make([]string, len(labels))
	for i, l := range labels {
		lowerLabels[i] = strings.ToLower(l)
	}

	score := 3
	if containsAnyTerm(lowerTitle, lowerLabels, easyTerms) {
		score--
	}
	if containsAnyTerm(lowerTitle, lowerLabels, hardTerms) {
		score++
	}
	if len(body) > 1000 {
		score++
	}

	switch {
	case score <= 2:
		return domain.LevelBeginner
	case score >= 4:
		return domain.LevelAdvanced
	default:
		return domain.LevelIntermediate
	}
}

func containsAnyTerm(title string, labels []string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(title, term) {
			return true
		}
		for _, label := range labels {
			if label == term {
				return true
			}
		}
	}
	return false
}

func repoNameFromURL(repositoryURL string) string {
	if repositoryURL == "" {
		return ""
	}
	parts := strings.Split(strings.TrimSuffix(repositoryURL, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2] + "/" + parts[len(parts)-1]
}

func excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
