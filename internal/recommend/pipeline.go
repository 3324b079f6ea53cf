package recommend

import (
	"log/slog"
	"strings"
	"time"

	"github.com/osscout/scout/internal/domain"
)

// DefaultTopN caps how many recommendations a pipeline run returns.
const DefaultTopN = 10

// PipelineStats summarizes one pipeline run for logging and the dashboard
// payload.
type PipelineStats struct {
	InputCount    int            `json:"input_count"`
	SelectedCount int            `json:"selected_count"`
	DroppedRows   int            `json:"dropped_rows"`
	DedupedRows   int            `json:"deduped_rows"`
	RankedCount   int            `json:"ranked_count"`
	MeanScore     float64        `json:"mean_score"`
	ByLanguage    map[string]int `json:"by_language"`
}

// Pipeline runs the recommendation flow over a snapshot of issues:
// selection, preprocessing, feature transformation, scoring, and an
// evaluation summary. Pure over its inputs; issues are copied before
// normalization.
type Pipeline struct {
	scorer *Scorer
}

// NewPipeline creates a pipeline around scorer.
func NewPipeline(scorer *Scorer) *Pipeline {
	return &Pipeline{scorer: scorer}
}

// Run produces up to topN recommendations for the profile from the given
// issue snapshot. topN <= 0 uses DefaultTopN.
func (p *Pipeline) Run(profile *Profile, issues []*domain.Issue, topN int, now time.Time) ([]ScoredIssue, *PipelineStats) {
	if topN <= 0 {
		topN = DefaultTopN
	}
	stats := &PipelineStats{InputCount: len(issues), ByLanguage: map[string]int{}}

	selected := selectForProfile(profile, issues)
	stats.SelectedCount = len(selected)

	cleaned, dropped, deduped := preprocess(selected)
	stats.DroppedRows = dropped
	stats.DedupedRows = deduped

	ranked := p.scorer.Rank(profile, cleaned, now)
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	stats.RankedCount = len(ranked)

	var total float64
	for _, rec := range ranked {
		total += rec.Score
		stats.ByLanguage[rec.Issue.Language]++
	}
	if len(ranked) > 0 {
		stats.MeanScore = total / float64(len(ranked))
	}

	slog.Debug("Recommendation pipeline finished",
		"input", stats.InputCount,
		"selected", stats.SelectedCount,
		"dropped", stats.DroppedRows,
		"deduped", stats.DedupedRows,
		"ranked", stats.RankedCount,
		"mean_score", stats.MeanScore)
	return ranked, stats
}

// selectForProfile keeps issues in languages the profile knows (preferred or
// already solved in). A profile with no language signal keeps everything.
func selectForProfile(profile *Profile, issues []*domain.Issue) []*domain.Issue {
	if !profile.hasLanguages() {
		return issues
	}
	selected := make([]*domain.Issue, 0, len(issues))
	for _, issue := range issues {
		if issue.Language == "" || profile.prefers(issue.Language) || profile.solvedIn(issue.Language) {
			selected = append(selected, issue)
		}
	}
	return selected
}

// preprocess drops rows missing a title or language, normalizes the
// survivors into fresh copies, and dedupes by URL keeping the first
// occurrence. Returns the cleaned issues plus drop and dedupe counts.
func preprocess(issues []*domain.Issue) (cleaned []*domain.Issue, dropped, deduped int) {
	seen := make(map[string]bool, len(issues))
	cleaned = make([]*domain.Issue, 0, len(issues))
	for _, issue := range issues {
		if issue == nil || strings.TrimSpace(issue.Title) == "" || strings.TrimSpace(issue.Language) == "" {
			dropped++
			continue
		}
		if seen[issue.URL] {
			deduped++
			continue
		}
		seen[issue.URL] = true

		c := *issue
		c.Title = strings.Join(strings.Fields(c.Title), " ")
		c.Language = strings.ToLower(strings.TrimSpace(c.Language))
		cleaned = append(cleaned, &c)
	}
	return cleaned, dropped, deduped
}
