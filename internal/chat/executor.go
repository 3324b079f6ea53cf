package chat

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/osscout/scout/internal/domain"
	"github.com/osscout/scout/internal/rag"
	"github.com/osscout/scout/internal/search"
	"github.com/osscout/scout/internal/store"
)

const (
	// defaultToolTimeout bounds a single tool call.
	defaultToolTimeout = 5 * time.Second

	// historyLimit caps the solved-history slice the history tool returns.
	historyLimit = 10

	// similarTopK is how many similar past issues the similar tool surfaces.
	similarTopK = 5

	// mergedIssueCap bounds the combined cache+live issue list for one turn.
	mergedIssueCap = 10
)

// Executor runs the retrieval tools behind one chat turn. Each intent maps to
// a fixed tool set; tools run concurrently where independent, each under its
// own timeout, and failures degrade to error-tagged empty results instead of
// aborting the turn.
type Executor struct {
	repo      store.Repository
	search    *search.Service
	rag       *rag.Store
	timeout   time.Duration
	minCached int
	logger    *slog.Logger
}

// NewExecutor builds a tool executor. toolTimeout <= 0 uses the default,
// minCached <= 0 uses the search service's threshold.
func NewExecutor(repo store.Repository, searchSvc *search.Service, ragStore *rag.Store, toolTimeout time.Duration, minCached int, logger *slog.Logger) *Executor {
	if toolTimeout <= 0 {
		toolTimeout = defaultToolTimeout
	}
	if minCached <= 0 && searchSvc != nil {
		minCached = searchSvc.MinCached()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		repo:      repo,
		search:    searchSvc,
		rag:       ragStore,
		timeout:   toolTimeout,
		minCached: minCached,
		logger:    logger,
	}
}

// Execute dispatches the tools for one classified message and collects their
// results. The returned slice is ordered by tool name for deterministic
// formatting; it is empty only for intents that need no retrieval.
func (e *Executor) Execute(ctx context.Context, userID string, cls Classification, message string) []ToolResult {
	var (
		g       errgroup.Group
		results = make(chan ToolResult, 4)
	)

	switch cls.Intent {
	case IntentSearchIssues:
		// Cache first, then the live top-up when the cache ran thin. The
		// ordering is inherent, so both run on one goroutine.
		g.Go(func() error {
			e.runIssueSearch(ctx, cls.Entities, results)
			return nil
		})
	case IntentViewHistory:
		g.Go(func() error {
			results <- e.runHistory(ctx, userID)
			return nil
		})
	case IntentGetStats:
		g.Go(func() error {
			results <- e.runStats(ctx, userID)
			return nil
		})
	case IntentGetAdvice:
		g.Go(func() error {
			results <- e.runSkill(ctx, userID)
			return nil
		})
		g.Go(func() error {
			results <- e.runSimilar(ctx, userID, message)
			return nil
		})
	case IntentGeneral:
		g.Go(func() error {
			results <- e.runSimilar(ctx, userID, message)
			return nil
		})
	}

	_ = g.Wait()
	close(results)

	collected := make([]ToolResult, 0, 4)
	for r := range results {
		if r.Err != nil {
			terr := &domain.ToolError{Tool: r.Tool, Cause: r.Err}
			e.logger.Warn("Tool failed", "tool", r.Tool, "user_id", userID, "error", terr.Error())
		}
		collected = append(collected, r)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].Tool < collected[j].Tool })
	return collected
}

// runIssueSearch runs the hybrid pair: the cache tool always, the github_api
// tool only when the cache returned fewer than the configured minimum.
func (e *Executor) runIssueSearch(ctx context.Context, entities map[string]string, results chan<- ToolResult) {
	q := queryFromEntities(entities)

	cacheRes := ToolResult{Tool: ToolCache, Freshness: FreshnessCached, FetchedAt: time.Now()}
	err := e.withTimeout(ctx, func(ctx context.Context) error {
		issues, err := e.search.Cached(ctx, q)
		cacheRes.Issues = issues
		return err
	})
	cacheRes.Err = err
	results <- cacheRes

	if err == nil && len(cacheRes.Issues) >= e.minCached {
		return
	}

	exclude := make(map[string]bool, len(cacheRes.Issues))
	for _, issue := range cacheRes.Issues {
		exclude[issue.URL] = true
	}

	liveRes := ToolResult{Tool: ToolGitHub, Freshness: FreshnessLive, FetchedAt: time.Now()}
	liveRes.Err = e.withTimeout(ctx, func(ctx context.Context) error {
		issues, err := e.search.LiveTopUp(ctx, q, exclude)
		liveRes.Issues = issues
		return err
	})
	results <- liveRes
}

func (e *Executor) runHistory(ctx context.Context, userID string) ToolResult {
	res := ToolResult{Tool: ToolStats, Freshness: FreshnessCached, FetchedAt: time.Now()}
	res.Err = e.withTimeout(ctx, func(ctx context.Context) error {
		solved, err := e.repo.GetSolvedIssues(ctx, userID, historyLimit)
		res.Solved = solved
		return err
	})
	return res
}

func (e *Executor) runStats(ctx context.Context, userID string) ToolResult {
	res := ToolResult{Tool: ToolStats, Freshness: FreshnessCached, FetchedAt: time.Now()}
	res.Err = e.withTimeout(ctx, func(ctx context.Context) error {
		stats, err := e.repo.GetUserStats(ctx, userID)
		if err != nil {
			return err
		}
		res.Stats = stats
		skills, err := e.repo.GetUserSkills(ctx, userID)
		if err != nil {
			return err
		}
		res.Skills = skills
		return nil
	})
	return res
}

// runSkill condenses the user's skills and solved-history patterns into the
// advice payload.
func (e *Executor) runSkill(ctx context.Context, userID string) ToolResult {
	res := ToolResult{Tool: ToolSkill, Freshness: FreshnessCached, FetchedAt: time.Now()}
	res.Err = e.withTimeout(ctx, func(ctx context.Context) error {
		skills, err := e.repo.GetUserSkills(ctx, userID)
		if err != nil {
			return err
		}
		res.Skills = skills

		patterns, err := e.rag.AnalyzePatterns(ctx, userID)
		if err != nil {
			return err
		}
		res.Patterns = summarizePatterns(patterns, skills)
		return nil
	})
	return res
}

func (e *Executor) runSimilar(ctx context.Context, userID, message string) ToolResult {
	res := ToolResult{Tool: ToolSimilar, Freshness: FreshnessCached, FetchedAt: time.Now()}
	res.Err = e.withTimeout(ctx, func(ctx context.Context) error {
		matches, err := e.rag.SearchSimilar(ctx, userID, message, similarTopK)
		if err != nil {
			return err
		}
		res.Similar = make([]SimilarDoc, 0, len(matches))
		for _, m := range matches {
			res.Similar = append(res.Similar, SimilarDoc{
				Title:      documentTitle(m.Doc),
				URL:        m.Doc.IssueURL,
				Language:   m.Doc.Metadata["language"],
				Similarity: m.Similarity,
			})
		}
		return nil
	})
	return res
}

func (e *Executor) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return fn(ctx)
}

// queryFromEntities maps classifier entities onto a search query. The topic
// entity doubles as the free-text term.
func queryFromEntities(entities map[string]string) search.Query {
	q := search.Query{Limit: mergedIssueCap}
	if lang, ok := entities[EntityLanguage]; ok {
		q.Language = lang
	}
	if diff, ok := entities[EntityDifficulty]; ok {
		q.Difficulty = domain.ParseSkillLevel(diff)
	}
	if topic, ok := entities[EntityTopic]; ok {
		q.Terms = topic
	}
	return q
}

// MergedIssues flattens the cache and github results of one turn into the
// canonical issue list: cached copies win on URL collision, ordering is stars
// descending then newest then URL, capped at ten.
func MergedIssues(results []ToolResult) []*domain.Issue {
	merged := make([]*domain.Issue, 0, mergedIssueCap)
	seen := make(map[string]bool)
	for _, tool := range []string{ToolCache, ToolGitHub} {
		for _, r := range results {
			if r.Tool != tool {
				continue
			}
			for _, issue := range r.Issues {
				if seen[issue.URL] {
					continue
				}
				seen[issue.URL] = true
				merged = append(merged, issue)
			}
		}
	}
	search.SortIssues(merged)
	if len(merged) > mergedIssueCap {
		merged = merged[:mergedIssueCap]
	}
	return merged
}

// summarizePatterns folds rag pattern analysis and skill rows into the
// payload the advice prompt consumes.
func summarizePatterns(p *rag.Patterns, skills []domain.UserSkill) *SkillSummary {
	if p == nil {
		return nil
	}
	summary := &SkillSummary{
		TotalSolved:       p.TotalSolved,
		TypicalDifficulty: p.TypicalDifficulty,
	}
	for _, lang := range p.TopLanguages {
		summary.TopLanguages = append(summary.TopLanguages, lang.Name)
	}
	for _, repo := range p.TopRepos {
		summary.TopRepos = append(summary.TopRepos, repo.Name)
	}
	summary.Recommendations = adviceRecommendations(p, skills)
	return summary
}

// adviceRecommendations derives next-step suggestions from solved volume and
// per-language activity.
func adviceRecommendations(p *rag.Patterns, skills []domain.UserSkill) []string {
	if p.TotalSolved == 0 {
		return []string{"Start solving issues to build your skills!"}
	}

	var recs []string
	if len(skills) > 0 {
		strongest := skills[0]
		for _, s := range skills[1:] {
			if s.SolvedCount > strongest.SolvedCount {
				strongest = s
			}
		}
		recs = append(recs, "Keep building on your "+strongest.Language+" experience")
	}
	if len(p.TopLanguages) < 3 {
		recs = append(recs, "Try a new language to diversify your skills")
	}
	switch p.TypicalDifficulty {
	case domain.LevelBeginner:
		recs = append(recs, "Try intermediate issues to challenge yourself")
	case domain.LevelIntermediate:
		recs = append(recs, "Take on an advanced issue to stretch further")
	case domain.LevelAdvanced:
		recs = append(recs, "Consider mentoring or reviewing beginner contributions")
	}
	return recs
}

// documentTitle recovers the issue title from a solved document's content,
// whose first line reads "Issue: <title>".
func documentTitle(doc *domain.SolvedDocument) string {
	if doc == nil {
		return ""
	}
	line := doc.Content
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "Issue:"))
}
