// Package recommend turns cached issues into ranked recommendations. A
// five-feature linear scorer does the ranking; a KDD-style pipeline wraps it
// with selection, cleaning, and an evaluation summary for the dashboard.
package recommend

import (
	"math"
	"strings"
	"time"

	"github.com/osscout/scout/internal/domain"
)

const freshnessWindowDays = 90

// relevantLabels mark an issue as approachable for newcomers. Two or more of
// them saturate the label_relevance feature.
var relevantLabels = map[string]bool{
	"good first issue":  true,
	"help wanted":       true,
	"beginner":          true,
	"easy":              true,
	"documentation":     true,
	"starter":           true,
	"first-timers-only": true,
	"low-hanging-fruit": true,
}

// Profile is the scoring view of a user: their level, the languages they
// prefer, and the languages they have already solved issues in.
type Profile struct {
	Level              domain.SkillLevel
	PreferredLanguages []string
	SolvedLanguages    map[string]int
}

// NewProfile builds a scoring profile from a user record and their
// per-language skill rows.
func NewProfile(user *domain.User, skills []domain.UserSkill) *Profile {
	p := &Profile{
		Level:           domain.LevelBeginner,
		SolvedLanguages: make(map[string]int, len(skills)),
	}
	if user != nil {
		p.Level = user.Level
		p.PreferredLanguages = user.PreferredLanguages
	}
	for _, skill := range skills {
		lang := strings.ToLower(skill.Language)
		if lang != "" {
			p.SolvedLanguages[lang] += skill.SolvedCount
		}
	}
	return p
}

// hasLanguages reports whether the profile expresses any language signal.
func (p *Profile) hasLanguages() bool {
	return len(p.PreferredLanguages) > 0 || len(p.SolvedLanguages) > 0
}

func (p *Profile) prefers(language string) bool {
	for _, l := range p.PreferredLanguages {
		if strings.EqualFold(l, language) {
			return true
		}
	}
	return false
}

func (p *Profile) solvedIn(language string) bool {
	return p.SolvedLanguages[strings.ToLower(language)] > 0
}

// Features holds the five normalized scoring signals for one issue. Each is
// in [0,1].
type Features struct {
	DifficultyMatch float64 `json:"difficulty_match"`
	LanguageMatch   float64 `json:"language_match"`
	RepoPopularity  float64 `json:"repo_popularity"`
	IssueFreshness  float64 `json:"issue_freshness"`
	LabelRelevance  float64 `json:"label_relevance"`
}

// ExtractFeatures computes the scoring features for one issue against one
// profile. Pure function; now anchors the freshness decay.
func ExtractFeatures(profile *Profile, issue *domain.Issue, now time.Time) Features {
	return Features{
		DifficultyMatch: difficultyMatch(profile.Level, issue.Difficulty),
		LanguageMatch:   languageMatch(profile, issue.Language),
		RepoPopularity:  repoPopularity(issue.Stars),
		IssueFreshness:  issueFreshness(issue, now),
		LabelRelevance:  labelRelevance(issue.Labels),
	}
}

// difficultyMatch is 1 at an exact level match and loses half a point per
// level of distance on the beginner/intermediate/advanced ladder.
func difficultyMatch(userLevel, issueLevel domain.SkillLevel) float64 {
	distance := userLevel.Rank() - issueLevel.Rank()
	if distance < 0 {
		distance = -distance
	}
	return 1 - float64(distance)/2
}

func languageMatch(profile *Profile, language string) float64 {
	if language == "" {
		return 0
	}
	if profile.prefers(language) {
		return 1
	}
	if profile.solvedIn(language) {
		return 0.5
	}
	return 0
}

// repoPopularity grows with the log of the star count and saturates at 100k
// stars, so mega-repos do not drown out everything else.
func repoPopularity(stars int) float64 {
	if stars <= 0 {
		return 0
	}
	return math.Min(1, math.Log10(1+float64(stars))/5)
}

func issueFreshness(issue *domain.Issue, now time.Time) float64 {
	return math.Max(0, 1-issue.AgeDays(now)/freshnessWindowDays)
}

func labelRelevance(labels []string) float64 {
	count := 0
	for _, label := range labels {
		if relevantLabels[strings.ToLower(strings.TrimSpace(label))] {
			count++
		}
	}
	return math.Min(1, float64(count)/2)
}
