package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/osscout/scout/internal/domain"
	"github.com/osscout/scout/internal/rag"
	"github.com/osscout/scout/internal/store"
)

const seedUserID = "demo_user"

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load demo data into the database",
	Long: `Populate the database with a demo user, cached issues, and solved history.

The demo user (` + seedUserID + `) has enough python-leaning history to exercise
the dashboard, the assistant, and "scoutctl evaluate". Seeding is idempotent;
running it twice changes nothing.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

// seedRepo describes one upstream repository demo issues are minted from.
type seedRepo struct {
	name       string
	language   string
	stars      int
	difficulty domain.SkillLevel
}

var seedRepos = []seedRepo{
	{"pallets/flask", "python", 67000, domain.LevelBeginner},
	{"psf/requests", "python", 52000, domain.LevelBeginner},
	{"fastapi/fastapi", "python", 76000, domain.LevelIntermediate},
	{"pandas-dev/pandas", "python", 43000, domain.LevelIntermediate},
	{"gin-gonic/gin", "go", 78000, domain.LevelBeginner},
	{"spf13/cobra", "go", 38000, domain.LevelIntermediate},
	{"prometheus/prometheus", "go", 55000, domain.LevelAdvanced},
	{"tokio-rs/tokio", "rust", 27000, domain.LevelIntermediate},
	{"sveltejs/svelte", "javascript", 79000, domain.LevelBeginner},
	{"expressjs/express", "javascript", 65000, domain.LevelBeginner},
}

var seedTitles = []string{
	"Fix typo in contributing guide",
	"Improve error message for invalid config",
	"Add missing test for edge case",
	"Document the retry behavior",
	"Clean up deprecated API usage",
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, err := openRepo(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	ctx := cmd.Context()
	now := time.Now()

	if err := seedUser(ctx, repo, now); err != nil {
		return err
	}
	issues := seedIssues(now)
	if err := repo.UpsertIssues(ctx, issues); err != nil {
		return fmt.Errorf("seed issue cache: %w", err)
	}
	solvedCount, err := seedHistory(ctx, repo, now)
	if err != nil {
		return err
	}

	slog.Info("Demo data loaded",
		"user", seedUserID,
		"cached_issues", len(issues),
		"solved_issues", solvedCount,
	)
	return nil
}

func seedUser(ctx context.Context, repo store.Repository, now time.Time) error {
	existing, err := repo.GetUser(ctx, seedUserID)
	if err != nil {
		return fmt.Errorf("check demo user: %w", err)
	}
	if existing != nil {
		return nil
	}
	return repo.UpsertUser(ctx, &domain.User{
		UserID:             seedUserID,
		Username:           "demo",
		PreferredLanguages: []string{"python", "go"},
		Level:              domain.LevelBeginner,
		LastSeenAt:         now,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
}

// seedIssues mints a few plausible open issues per repository, spread over the
// past month so freshness scores vary.
func seedIssues(now time.Time) []*domain.Issue {
	issues := make([]*domain.Issue, 0, len(seedRepos)*len(seedTitles))
	n := 0
	for _, r := range seedRepos {
		for i, title := range seedTitles {
			n++
			labels := []string{"good first issue"}
			if i%2 == 0 {
				labels = append(labels, "help wanted")
			}
			issues = append(issues, &domain.Issue{
				URL:        fmt.Sprintf("https://github.com/%s/issues/%d", r.name, 1000+n),
				Title:      title,
				RepoName:   r.name,
				Language:   r.language,
				Labels:     labels,
				Stars:      r.stars,
				Comments:   i,
				Difficulty: r.difficulty,
				CreatedAt:  now.Add(-time.Duration(n) * 24 * time.Hour),
				FetchedAt:  now,
			})
		}
	}
	return issues
}

// seedHistory marks a dozen python solves and a couple of go ones for the demo
// user, bumping skills and indexing documents the same way the API does. A
// user with any existing history is left untouched so reruns cannot inflate
// skill counters.
func seedHistory(ctx context.Context, repo store.Repository, now time.Time) (int, error) {
	existing, err := repo.GetSolvedIssues(ctx, seedUserID, 1)
	if err != nil {
		return 0, fmt.Errorf("check demo history: %w", err)
	}
	if len(existing) > 0 {
		slog.Info("Demo user already has history; skipping")
		return 0, nil
	}

	ragStore := rag.New(repo, nil)

	type solve struct {
		repoName string
		language string
	}
	solves := make([]solve, 0, 14)
	for i := 0; i < 12; i++ {
		solves = append(solves, solve{fmt.Sprintf("demo-org/python-project-%d", i%4), "python"})
	}
	solves = append(solves,
		solve{"demo-org/go-project-0", "go"},
		solve{"demo-org/go-project-1", "go"},
	)

	count := 0
	for i, s := range solves {
		solved := &domain.SolvedIssue{
			UserID:     seedUserID,
			IssueURL:   fmt.Sprintf("https://github.com/%s/issues/%d", s.repoName, 100+i),
			Title:      seedTitles[i%len(seedTitles)],
			Language:   s.language,
			Difficulty: domain.LevelBeginner,
			Labels:     []string{"good first issue"},
			SolvedAt:   now.Add(-time.Duration(len(solves)-i) * 48 * time.Hour),
		}
		if err := repo.AddSolvedIssue(ctx, solved); err != nil {
			return count, fmt.Errorf("seed solved issue: %w", err)
		}
		if err := repo.BumpUserSkill(ctx, seedUserID, s.language, solved.SolvedAt); err != nil {
			return count, fmt.Errorf("seed user skill: %w", err)
		}
		if err := ragStore.IndexSolvedIssue(ctx, solved); err != nil {
			slog.Warn("Failed to index seeded issue", "url", solved.IssueURL, "error", err)
		}
		count++
	}
	return count, nil
}
