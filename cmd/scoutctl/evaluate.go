package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/osscout/scout/internal/recommend"
	"github.com/osscout/scout/internal/store"
)

var (
	evalUser    string
	evalConfig  string
	evalWeights string
	evalDecoys  int
	evalJSON    bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate recommendation quality for a user",
	Long: `Run k-fold cross-validation of the issue scorer over a user's solved history.

Each fold holds out part of the history, rebuilds the scoring profile from the
rest, and checks whether the held-out issues rank inside the top K when mixed
into a pool of cached decoy issues. Reported per fold and aggregated:

  precision@K   held-out hits / K
  recall@K      held-out hits / held-out size
  f1            harmonic mean of the two
  hit_rate@K    hits / min(K, held-out size)
  ndcg@K        rank-discounted hit quality

Examples:
  scoutctl evaluate --user anon_1234
  scoutctl evaluate --user anon_1234 --config eval.yaml --weights weights.yaml
  scoutctl evaluate --user anon_1234 --json > result.json`,
	RunE: runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVar(&evalUser, "user", "", "User ID whose history to evaluate (required)")
	evaluateCmd.Flags().StringVar(&evalConfig, "config", "", "Path to an eval config YAML (folds, k, seed)")
	evaluateCmd.Flags().StringVar(&evalWeights, "weights", "", "Scoring weights YAML (default: SCORING_WEIGHTS_FILE)")
	evaluateCmd.Flags().IntVar(&evalDecoys, "decoys", 50, "How many cached issues to use as the decoy pool")
	evaluateCmd.Flags().BoolVar(&evalJSON, "json", false, "Print the full result as JSON on stdout")
	_ = evaluateCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
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

	user, err := repo.GetUser(ctx, evalUser)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("user %q not found", evalUser)
	}

	history, err := repo.GetSolvedIssues(ctx, evalUser, 0)
	if err != nil {
		return fmt.Errorf("load solved history: %w", err)
	}
	decoys, err := repo.SearchCachedIssues(ctx, store.IssueFilter{Limit: evalDecoys})
	if err != nil {
		return fmt.Errorf("load decoy pool: %w", err)
	}

	evalCfg, err := recommend.LoadEvalConfig(evalConfig)
	if err != nil {
		return err
	}

	weightsPath := evalWeights
	if weightsPath == "" {
		weightsPath = cfg.Scoring.WeightsFile
	}
	scorer := recommend.NewScorer(recommend.NewWeightsSource(weightsPath))

	result, err := recommend.NewEvaluator(scorer, evalCfg).Evaluate(user, history, decoys, time.Now())
	if err != nil {
		return err
	}

	slog.Info("Evaluation complete",
		"user", evalUser,
		"samples", result.Samples,
		"decoys", result.Decoys,
		"folds", result.Folds,
		"k", result.K,
	)
	for _, fold := range result.PerFold {
		slog.Info("Fold result",
			"fold", fold.Fold,
			"train", fold.TrainSize,
			"test", fold.TestSize,
			"precision", fmt.Sprintf("%.3f", fold.Precision),
			"recall", fmt.Sprintf("%.3f", fold.Recall),
			"f1", fmt.Sprintf("%.3f", fold.F1),
			"hit_rate", fmt.Sprintf("%.3f", fold.HitRate),
			"ndcg", fmt.Sprintf("%.3f", fold.NDCG),
		)
	}
	logSummary := func(name string, s recommend.MetricSummary) {
		slog.Info("Metric summary", "metric", name,
			"mean", fmt.Sprintf("%.3f", s.Mean),
			"std", fmt.Sprintf("%.3f", s.Std),
			"min", fmt.Sprintf("%.3f", s.Min),
			"max", fmt.Sprintf("%.3f", s.Max),
		)
	}
	logSummary("precision", result.Precision)
	logSummary("recall", result.Recall)
	logSummary("f1", result.F1)
	logSummary("hit_rate", result.HitRate)
	logSummary("ndcg", result.NDCG)

	if evalJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}
	return nil
}
