// Package rag maintains the similar-solved document store. Every issue a
// user marks solved is indexed as a small text document; the assistant's
// similar tool searches those documents by cosine similarity when an
// embedding engine is configured, and by keyword matching when it is not.
package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/osscout/scout/internal/domain"
	"github.com/osscout/scout/internal/embedding"
	"github.com/osscout/scout/internal/store"
)

const (
	// DefaultTopK is the number of similar documents returned when the
	// caller does not ask for a specific count.
	DefaultTopK = 5

	// minSimilarity filters out semantic matches too weak to be useful.
	minSimilarity = 0.5

	// maxKeywordTerms caps how many words of a query the keyword fallback
	// probes with.
	maxKeywordTerms = 5

	topPatternEntries = 3
)

// Match is one similar solved document. Similarity is 0 for keyword-fallback
// matches, which carry no meaningful score.
type Match struct {
	Doc        *domain.SolvedDocument `json:"doc"`
	Similarity float64                `json:"similarity"`
}

// NameCount pairs a name with how often it appears in the user's history.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Patterns summarizes a user's solved history for the skill-advice payload.
type Patterns struct {
	TotalSolved       int               `json:"total_solved"`
	TopLanguages      []NameCount       `json:"top_languages"`
	TopRepos          []NameCount       `json:"top_repos"`
	TopLabels         []NameCount       `json:"top_labels"`
	TypicalDifficulty domain.SkillLevel `json:"typical_difficulty"`
}

// Store indexes and searches solved-issue documents. A nil engine disables
// semantic search; the store then works purely over keywords.
type Store struct {
	repo   store.Repository
	engine embedding.Engine
}

// New creates a solved-document store backed by repo. engine may be nil.
func New(repo store.Repository, engine embedding.Engine) *Store {
	return &Store{repo: repo, engine: engine}
}

// SemanticEnabled reports whether similarity search runs over embeddings.
func (s *Store) SemanticEnabled() bool {
	return s.engine != nil
}

// DocID derives the stable identifier for a user's solved document, so that
// marking the same issue solved twice updates one row instead of adding two.
func DocID(userID, issueURL string) string {
	sum := sha256.Sum256([]byte(userID + "|" + issueURL))
	return "doc_" + hex.EncodeToString(sum[:])[:16]
}

// DocumentText renders the text that gets embedded for a solved issue.
func DocumentText(solved *domain.SolvedIssue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Issue: %s\n", solved.Title)
	if repo := repoFromIssueURL(solved.IssueURL); repo != "" {
		fmt.Fprintf(&b, "Repository: %s\n", repo)
	}
	fmt.Fprintf(&b, "Language: %s\n", solved.Language)
	fmt.Fprintf(&b, "Difficulty: %s\n", solved.Difficulty)
	if len(solved.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(solved.Labels, ", "))
	}
	return strings.TrimSpace(b.String())
}

// IndexSolvedIssue stores the document for a freshly solved issue. When an
// embedding engine is configured the document is embedded first; an embedding
// failure downgrades to an embedding-less document rather than failing the
// mark-solved flow.
func (s *Store) IndexSolvedIssue(ctx context.Context, solved *domain.SolvedIssue) error {
	doc := &domain.SolvedDocument{
		DocID:    DocID(solved.UserID, solved.IssueURL),
		UserID:   solved.UserID,
		IssueURL: solved.IssueURL,
		Content:  DocumentText(solved),
		Metadata: map[string]string{
			"language":   solved.Language,
			"difficulty": string(solved.Difficulty),
			"repo":       repoFromIssueURL(solved.IssueURL),
			"labels":     strings.Join(solved.Labels, ","),
		},
		CreatedAt: solved.SolvedAt,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	if s.engine != nil {
		vec, err := s.engine.Embed(ctx, doc.Content)
		if err != nil {
			slog.Warn("Embedding solved issue failed; storing without vector",
				"user_id", solved.UserID, "issue_url", solved.IssueURL, "error", err)
		} else {
			doc.Embedding = vec
		}
	}

	if err := s.repo.UpsertSolvedDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to store solved document: %w", err)
	}
	return nil
}

// SearchSimilar returns up to topK documents from the user's history most
// similar to query. Semantic results below the similarity floor are dropped.
// Without an engine, or when embedding the query fails, it falls back to
// keyword matching over document content.
func (s *Store) SearchSimilar(ctx context.Context, userID, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	if s.engine == nil {
		return s.searchKeyword(ctx, userID, query, topK)
	}

	queryVec, err := s.engine.Embed(ctx, query)
	if err != nil {
		slog.Warn("Embedding similarity query failed; falling back to keyword search",
			"user_id", userID, "error", err)
		return s.searchKeyword(ctx, userID, query, topK)
	}

	docs, err := s.repo.GetSolvedDocuments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load solved documents: %w", err)
	}

	embedded := make([]*domain.SolvedDocument, 0, len(docs))
	corpus := make([][]float32, 0, len(docs))
	for _, doc := range docs {
		if len(doc.Embedding) == 0 {
			continue
		}
		embedded = append(embedded, doc)
		corpus = append(corpus, doc.Embedding)
	}
	if len(embedded) == 0 {
		return s.searchKeyword(ctx, userID, query, topK)
	}

	matches := make([]Match, 0, topK)
	for _, result := range embedding.FindTopK(queryVec, corpus, topK) {
		if result.Similarity < minSimilarity {
			continue
		}
		matches = append(matches, Match{Doc: embedded[result.Index], Similarity: result.Similarity})
	}
	return matches, nil
}

// searchKeyword probes the document store with the query's salient terms and
// merges distinct hits. Whole-sentence matching would miss almost everything,
// so free-text queries are reduced to individual words first.
func (s *Store) searchKeyword(ctx context.Context, userID, query string, limit int) ([]Match, error) {
	matches := make([]Match, 0, limit)
	seen := make(map[string]bool, limit)
	for _, term := range keywordTerms(query) {
		docs, err := s.repo.SearchSolvedDocumentsKeyword(ctx, userID, term, limit)
		if err != nil {
			return nil, fmt.Errorf("keyword document search failed: %w", err)
		}
		for _, doc := range docs {
			if seen[doc.DocID] {
				continue
			}
			seen[doc.DocID] = true
			matches = append(matches, Match{Doc: doc})
			if len(matches) == limit {
				return matches, nil
			}
		}
	}
	return matches, nil
}

// keywordFiller lists words too common to discriminate between documents.
// Field names from DocumentText are included because every document contains
// them.
var keywordFiller = map[string]bool{
	"what": true, "when": true, "where": true, "which": true, "should": true,
	"would": true, "could": true, "have": true, "this": true, "that": true,
	"with": true, "about": true, "from": true, "your": true, "want": true,
	"will": true, "good": true, "first": true, "some": true, "more": true,
	"like": true, "please": true, "help": true, "find": true, "show": true,
	"issue": true, "issues": true, "repository": true, "language": true,
	"difficulty": true, "labels": true,
}

// keywordTerms reduces a free-text query to at most five words worth probing:
// four letters or longer and not filler. A query with no such words probes
// with its trimmed whole.
func keywordTerms(query string) []string {
	terms := make([]string, 0, maxKeywordTerms)
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,!?;:\"'()[]")
		if len(w) < 4 || keywordFiller[w] {
			continue
		}
		terms = append(terms, w)
		if len(terms) == maxKeywordTerms {
			break
		}
	}
	if len(terms) == 0 {
		return []string{strings.TrimSpace(query)}
	}
	return terms
}

// AnalyzePatterns aggregates the user's solved documents into the dominant
// languages, repositories, and labels, plus the most common difficulty.
// Returns nil when the user has no history.
func (s *Store) AnalyzePatterns(ctx context.Context, userID string) (*Patterns, error) {
	docs, err := s.repo.GetSolvedDocuments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load solved documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	languages := map[string]int{}
	repos := map[string]int{}
	labels := map[string]int{}
	difficulties := map[domain.SkillLevel]int{}
	for _, doc := range docs {
		if lang := doc.Metadata["language"]; lang != "" {
			languages[lang]++
		}
		if repo := doc.Metadata["repo"]; repo != "" {
			repos[repo]++
		}
		for _, label := range strings.Split(doc.Metadata["labels"], ",") {
			if label = strings.TrimSpace(label); label != "" {
				labels[label]++
			}
		}
		if diff := doc.Metadata["difficulty"]; diff != "" {
			difficulties[domain.SkillLevel(diff)]++
		}
	}

	return &Patterns{
		TotalSolved:       len(docs),
		TopLanguages:      topCounts(languages, topPatternEntries),
		TopRepos:          topCounts(repos, topPatternEntries),
		TopLabels:         topCounts(labels, topPatternEntries),
		TypicalDifficulty: dominantDifficulty(difficulties),
	}, nil
}

func topCounts(counts map[string]int, limit int) []NameCount {
	out := make([]NameCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, NameCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func dominantDifficulty(counts map[domain.SkillLevel]int) domain.SkillLevel {
	best := domain.LevelIntermediate
	bestCount := 0
	for _, level := range []domain.SkillLevel{domain.LevelBeginner, domain.LevelIntermediate, domain.LevelAdvanced} {
		if counts[level] > bestCount {
			best = level
			bestCount = counts[level]
		}
	}
	return best
}

func repoFromIssueURL(issueURL string) string {
	u, err := url.Parse(issueURL)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	return parts[0] + "/" + parts[1]
}
