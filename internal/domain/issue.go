package domain

import (
	"strings"
	"time"
)

// Issue is a GitHub issue mirrored into the local cache. The issue URL is its
// identity everywhere in Scout: cache rows, hybrid-search dedup, and solved
// history all key on it.
type Issue struct {
	URL         string     `json:"url"`
	GitHubID    int64      `json:"github_id,omitempty"`
	Title       string     `json:"title"`
	BodyExcerpt string     `json:"body_excerpt,omitempty"`
	RepoName    string     `json:"repo_name"`
	Language    string     `json:"language"`
	Labels      []string   `json:"labels"`
	Stars       int        `json:"stars"`
	Comments    int        `json:"comments"`
	Difficulty  SkillLevel `json:"difficulty"`
	CreatedAt   time.Time  `json:"created_at"`
	FetchedAt   time.Time  `json:"fetched_at"`
}

// HasLabel reports whether the issue carries the given label, case-insensitive.
func (i *Issue) HasLabel(name string) bool {
	name = strings.ToLower(name)
	for _, l := range i.Labels {
		if strings.ToLower(l) == name {
			return true
		}
	}
	return false
}

// AgeDays returns the issue age in days relative to now.
func (i *Issue) AgeDays(now time.Time) float64 {
	if i.CreatedAt.IsZero() || now.Before(i.CreatedAt) {
		return 0
	}
	return now.Sub(i.CreatedAt).Hours() / 24
}

// SolvedIssue records one entry in a user's solved history. Append-only.
type SolvedIssue struct {
	ID         int64      `json:"id"`
	UserID     string     `json:"user_id"`
	IssueURL   string     `json:"issue_url"`
	Title      string     `json:"title"`
	Language   string     `json:"language"`
	Difficulty SkillLevel `json:"difficulty"`
	Labels     []string   `json:"labels"`
	SolvedAt   time.Time  `json:"solved_at"`
}

// SolvedDocument is the similarity-search view of a solved issue: the text we
// embed plus its vector. Embedding is nil when no embedding engine was
// configured at the time the issue was marked solved.
type SolvedDocument struct {
	DocID     string            `json:"doc_id"`
	UserID    string            `json:"user_id"`
	IssueURL  string            `json:"issue_url"`
	Content   string            `json:"content"`
	Embedding []float32         `json:"-"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
