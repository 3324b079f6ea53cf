package recommend

import (
	"math"
	"testing"
	"time"

	"github.com/osscout/scout/internal/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func testProfile() *Profile {
	return &Profile{
		Level:              domain.LevelIntermediate,
		PreferredLanguages: []string{"Python", "go"},
		SolvedLanguages:    map[string]int{"rust": 2},
	}
}

func testIssue(url, language string, stars int, created time.Time, labels ...string) *domain.Issue {
	return &domain.Issue{
		URL:        url,
		Title:      "Fix the widget",
		Language:   language,
		Labels:     labels,
		Stars:      stars,
		Difficulty: domain.LevelIntermediate,
		CreatedAt:  created,
	}
}

func TestExtractFeatures(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	profile := testProfile()

	tests := []struct {
		name  string
		issue *domain.Issue
		check func(t *testing.T, f Features)
	}{
		{
			name:  "preferred language scores full match",
			issue: testIssue("u1", "python", 0, now),
			check: func(t *testing.T, f Features) {
				if f.LanguageMatch != 1.0 {
					t.Errorf("expected language match 1.0, got %v", f.LanguageMatch)
				}
			},
		},
		{
			name:  "solved-in language scores half",
			issue: testIssue("u2", "Rust", 0, now),
			check: func(t *testing.T, f Features) {
				if f.LanguageMatch != 0.5 {
					t.Errorf("expected language match 0.5, got %v", f.LanguageMatch)
				}
			},
		},
		{
			name:  "unknown language scores zero",
			issue: testIssue("u3", "haskell", 0, now),
			check: func(t *testing.T, f Features) {
				if f.LanguageMatch != 0 {
					t.Errorf("expected language match 0, got %v", f.LanguageMatch)
				}
			},
		},
		{
			name:  "missing language scores zero",
			issue: testIssue("u3b", "", 0, now),
			check: func(t *testing.T, f Features) {
				if f.LanguageMatch != 0 {
					t.Errorf("expected language match 0, got %v", f.LanguageMatch)
				}
			},
		},
		{
			name:  "difficulty one level apart loses half",
			issue: &domain.Issue{URL: "u4", Difficulty: domain.LevelBeginner, CreatedAt: now},
			check: func(t *testing.T, f Features) {
				if f.DifficultyMatch != 0.5 {
					t.Errorf("expected difficulty match 0.5, got %v", f.DifficultyMatch)
				}
			},
		},
		{
			name:  "ten stars give a fifth of popularity",
			issue: testIssue("u5", "python", 9, now),
			check: func(t *testing.T, f Features) {
				if !almostEqual(f.RepoPopularity, 0.2) {
					t.Errorf("expected popularity 0.2, got %v", f.RepoPopularity)
				}
			},
		},
		{
			name:  "popularity saturates at 100k stars",
			issue: testIssue("u6", "python", 2_000_000, now),
			check: func(t *testing.T, f Features) {
				if f.RepoPopularity != 1.0 {
					t.Errorf("expected popularity capped at 1.0, got %v", f.RepoPopularity)
				}
			},
		},
		{
			name:  "45-day-old issue has half freshness",
			issue: testIssue("u7", "python", 0, now.Add(-45*24*time.Hour)),
			check: func(t *testing.T, f Features) {
				if !almostEqual(f.IssueFreshness, 0.5) {
					t.Errorf("expected freshness 0.5, got %v", f.IssueFreshness)
				}
			},
		},
		{
			name:  "issues older than the window have zero freshness",
			issue: testIssue("u8", "python", 0, now.Add(-120*24*time.Hour)),
			check: func(t *testing.T, f Features) {
				if f.IssueFreshness != 0 {
					t.Errorf("expected freshness 0, got %v", f.IssueFreshness)
				}
			},
		},
		{
			name:  "two relevant labels saturate relevance",
			issue: testIssue("u9", "python", 0, now, "Good First Issue", "documentation", "bug"),
			check: func(t *testing.T, f Features) {
				if f.LabelRelevance != 1.0 {
					t.Errorf("expected label relevance 1.0, got %v", f.LabelRelevance)
				}
			},
		},
		{
			name:  "one relevant label scores half relevance",
			issue: testIssue("u10", "python", 0, now, "help wanted", "bug"),
			check: func(t *testing.T, f Features) {
				if f.LabelRelevance != 0.5 {
					t.Errorf("expected label relevance 0.5, got %v", f.LabelRelevance)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, ExtractFeatures(profile, tt.issue, now))
		})
	}
}

func TestScoreMonotoneInEachFeature(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	profile := testProfile()
	scorer := NewScorer(nil)

	base := testIssue("base", "haskell", 0, now.Add(-120*24*time.Hour))
	baseScore := scorer.Score(profile, base, now)

	improvements := map[string]*domain.Issue{
		"better language": testIssue("base", "python", 0, now.Add(-120*24*time.Hour)),
		"more stars":      testIssue("base", "haskell", 5000, now.Add(-120*24*time.Hour)),
		"fresher":         testIssue("base", "haskell", 0, now.Add(-24*time.Hour)),
		"relevant labels": testIssue("base", "haskell", 0, now.Add(-120*24*time.Hour), "good first issue", "easy"),
	}
	for name, issue := range improvements {
		if got := scorer.Score(profile, issue, now); got < baseScore {
			t.Errorf("%s: score decreased from %v to %v", name, baseScore, got)
		}
	}
}

func TestRankOrdersByScoreThenRecencyThenURL(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	profile := testProfile()
	scorer := NewScorer(nil)

	old := now.Add(-100 * 24 * time.Hour)
	older := now.Add(-200 * 24 * time.Hour)

	issues := []*domain.Issue{
		testIssue("https://github.com/x/x/issues/3", "haskell", 0, older),
		testIssue("https://github.com/x/x/issues/1", "python", 0, older),
		testIssue("https://github.com/x/x/issues/2", "haskell", 0, old),
		testIssue("https://github.com/x/x/issues/0", "haskell", 0, older),
	}

	ranked := scorer.Rank(profile, issues, now)
	if len(ranked) != 4 {
		t.Fatalf("expected 4 ranked issues, got %d", len(ranked))
	}

	// Highest score first: the preferred-language issue beats identical
	// zero-feature issues regardless of age.
	if ranked[0].Issue.URL != "https://github.com/x/x/issues/1" {
		t.Errorf("expected preferred-language issue first, got %s", ranked[0].Issue.URL)
	}
	// Both beyond the freshness window, so scores tie and the newer one wins.
	if ranked[1].Issue.URL != "https://github.com/x/x/issues/2" {
		t.Errorf("expected newer issue second, got %s", ranked[1].Issue.URL)
	}
	// Same score and timestamp: URL order decides.
	if ranked[2].Issue.URL != "https://github.com/x/x/issues/0" {
		t.Errorf("expected URL tiebreak, got %s", ranked[2].Issue.URL)
	}
	if ranked[3].Issue.URL != "https://github.com/x/x/issues/3" {
		t.Errorf("expected URL tiebreak last, got %s", ranked[3].Issue.URL)
	}
}

func TestNewProfileAggregatesSkills(t *testing.T) {
	user := &domain.User{Level: domain.LevelAdvanced, PreferredLanguages: []string{"go"}}
	skills := []domain.UserSkill{
		{Language: "Python", SolvedCount: 3},
		{Language: "python", SolvedCount: 2},
		{Language: "", SolvedCount: 9},
	}

	profile := NewProfile(user, skills)
	if profile.Level != domain.LevelAdvanced {
		t.Errorf("expected advanced level, got %s", profile.Level)
	}
	if profile.SolvedLanguages["python"] != 5 {
		t.Errorf("expected python count 5, got %d", profile.SolvedLanguages["python"])
	}
	if len(profile.SolvedLanguages) != 1 {
		t.Errorf("expected blank languages skipped, got %v", profile.SolvedLanguages)
	}

	anon := NewProfile(nil, nil)
	if anon.Level != domain.LevelBeginner {
		t.Errorf("expected nil user to default to beginner, got %s", anon.Level)
	}
}
