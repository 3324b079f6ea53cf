package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/osscout/scout/internal/config"
	"github.com/osscout/scout/internal/store"
)

var dbPathFlag string

var rootCmd = &cobra.Command{
	Use:   "scoutctl",
	Short: "Scout admin tools",
	Long: `scoutctl manages a Scout deployment from the command line.

It works directly against the Scout database:
  evaluate   score the recommender against a user's solved history
  seed       load demo users, issues, and history into an empty database
  refresh    pull fresh GitHub issues into the cache`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPathFlag, "db", "",
		"Path to the Scout database (default: DB_PATH from the environment)")
}

// loadConfig resolves configuration the same way the server does, with the
// --db flag taking precedence over the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dbPathFlag != "" {
		cfg.DBPath = dbPathFlag
	}
	return cfg, nil
}

func openRepo(cfg *config.Config) (store.Repository, error) {
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	return repo, nil
}
