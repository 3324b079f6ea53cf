package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/osscout/scout/internal/github"
	"github.com/osscout/scout/internal/search"
)

var (
	refreshLanguages []string
	refreshTerms     string
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Pull fresh GitHub issues into the cache",
	Long: `Fetch beginner-friendly open issues from GitHub and upsert them into the
issue cache, one query per language. Uses GITHUB_TOKEN when set; unauthenticated
requests work but hit GitHub's low anonymous rate limit quickly.

Examples:
  scoutctl refresh --language python --language go
  scoutctl refresh --language rust --terms "parser"`,
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().StringSliceVar(&refreshLanguages, "language", []string{"python", "go", "javascript"},
		"Languages to fetch issues for (repeatable)")
	refreshCmd.Flags().StringVar(&refreshTerms, "terms", "", "Extra search terms for every query")
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, _ []string) error {
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
	svc := search.NewService(repo, github.NewClient(cfg.GitHubToken), cfg.Chat.MinCachedResults)

	total := 0
	for _, language := range refreshLanguages {
		fetched, err := svc.LiveTopUp(ctx, search.Query{Language: language, Terms: refreshTerms}, nil)
		if err != nil {
			return fmt.Errorf("fetch %s issues: %w", language, err)
		}
		slog.Info("Fetched issues", "language", language, "count", len(fetched))
		total += len(fetched)
	}

	cached, err := repo.CountCachedIssues(ctx)
	if err != nil {
		return fmt.Errorf("count cache: %w", err)
	}
	slog.Info("Cache refresh complete", "fetched", total, "cache_size", cached)
	return nil
}
