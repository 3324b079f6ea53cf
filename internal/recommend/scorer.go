package recommend

import (
	"sort"
	"time"

	"github.com/osscout/scout/internal/domain"
)

// ScoredIssue pairs an issue with its recommendation score and the feature
// values behind it.
type ScoredIssue struct {
	Issue    *domain.Issue `json:"issue"`
	Score    float64       `json:"score"`
	Features Features      `json:"features"`
}

// Scorer ranks issues for a profile using the weights currently in effect.
type Scorer struct {
	source *WeightsSource
}

// NewScorer creates a scorer reading weights from source. A nil source means
// the default weights.
func NewScorer(source *WeightsSource) *Scorer {
	if source == nil {
		source = &WeightsSource{weights: DefaultWeights()}
	}
	return &Scorer{source: source}
}

// Score computes the recommendation score for one issue.
func (s *Scorer) Score(profile *Profile, issue *domain.Issue, now time.Time) float64 {
	return s.source.Current().Apply(ExtractFeatures(profile, issue, now))
}

// Rank returns a new slice of issues scored and sorted best-first. Score ties
// break toward newer issues, then by URL so the order is deterministic.
func (s *Scorer) Rank(profile *Profile, issues []*domain.Issue, now time.Time) []ScoredIssue {
	weights := s.source.Current()

	scored := make([]ScoredIssue, 0, len(issues))
	for _, issue := range issues {
		features := ExtractFeatures(profile, issue, now)
		scored = append(scored, ScoredIssue{
			Issue:    issue,
			Score:    weights.Apply(features),
			Features: features,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].Issue.CreatedAt.Equal(scored[j].Issue.CreatedAt) {
			return scored[i].Issue.CreatedAt.After(scored[j].Issue.CreatedAt)
		}
		return scored[i].Issue.URL < scored[j].Issue.URL
	})
	return scored
}
