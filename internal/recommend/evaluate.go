package recommend

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/osscout/scout/internal/domain"
)

// MinEvalSamples is the smallest solved history an evaluation accepts.
const MinEvalSamples = 10

// EvalConfig configures an offline scorer evaluation.
type EvalConfig struct {
	// Folds is the number of cross-validation folds.
	Folds int `yaml:"folds"`
	// K is the ranking cutoff for precision, hit rate, and NDCG.
	K int `yaml:"k"`
	// Seed drives the history shuffle so runs are reproducible.
	Seed int64 `yaml:"seed"`
}

// DefaultEvalConfig returns the standard five-fold, top-5 setup.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{Folds: 5, K: 5, Seed: 1}
}

// LoadEvalConfig reads an EvalConfig from a YAML file, filling unset fields
// with defaults. An empty path returns the defaults.
func LoadEvalConfig(path string) (EvalConfig, error) {
	cfg := DefaultEvalConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read eval config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse eval config: %w", err)
	}
	if cfg.Folds <= 1 {
		return cfg, fmt.Errorf("eval config: folds must be at least 2, got %d", cfg.Folds)
	}
	if cfg.K <= 0 {
		return cfg, fmt.Errorf("eval config: k must be positive, got %d", cfg.K)
	}
	return cfg, nil
}

// FoldMetrics holds one fold's ranking metrics.
type FoldMetrics struct {
	Fold      int     `json:"fold"`
	TrainSize int     `json:"train_size"`
	TestSize  int     `json:"test_size"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	HitRate   float64 `json:"hit_rate"`
	NDCG      float64 `json:"ndcg"`
}

// MetricSummary aggregates one metric across folds.
type MetricSummary struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// EvalResult is a full cross-validation run.
type EvalResult struct {
	Folds     int           `json:"folds"`
	K         int           `json:"k"`
	Samples   int           `json:"samples"`
	Decoys    int           `json:"decoys"`
	PerFold   []FoldMetrics `json:"per_fold"`
	Precision MetricSummary `json:"precision"`
	Recall    MetricSummary `json:"recall"`
	F1        MetricSummary `json:"f1"`
	HitRate   MetricSummary `json:"hit_rate"`
	NDCG      MetricSummary `json:"ndcg"`
}

// Evaluator measures how well the scorer ranks a user's actually-solved
// issues. Each fold holds out part of the solved history, derives the scoring
// profile from the rest, then ranks the held-out issues mixed into a decoy
// pool. Good scorers put the held-out issues in the top K.
type Evaluator struct {
	scorer *Scorer
	cfg    EvalConfig
}

// NewEvaluator creates an evaluator. A zero-value cfg gets defaults.
func NewEvaluator(scorer *Scorer, cfg EvalConfig) *Evaluator {
	def := DefaultEvalConfig()
	if cfg.Folds <= 1 {
		cfg.Folds = def.Folds
	}
	if cfg.K <= 0 {
		cfg.K = def.K
	}
	return &Evaluator{scorer: scorer, cfg: cfg}
}

// Evaluate runs k-fold cross-validation over history. decoys are issues the
// user has not solved; they form the noise the held-out issues must outrank.
func (e *Evaluator) Evaluate(user *domain.User, history []domain.SolvedIssue, decoys []*domain.Issue, now time.Time) (*EvalResult, error) {
	if len(history) < MinEvalSamples {
		return nil, fmt.Errorf("need at least %d solved issues to evaluate, have %d", MinEvalSamples, len(history))
	}
	if len(history) < e.cfg.Folds {
		return nil, fmt.Errorf("need at least %d solved issues for %d folds, have %d", e.cfg.Folds, e.cfg.Folds, len(history))
	}

	shuffled := make([]domain.SolvedIssue, len(history))
	copy(shuffled, history)
	rng := rand.New(rand.NewSource(e.cfg.Seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	solvedURLs := make(map[string]bool, len(shuffled))
	for _, s := range shuffled {
		solvedURLs[s.IssueURL] = true
	}
	cleanDecoys := make([]*domain.Issue, 0, len(decoys))
	for _, d := range decoys {
		if !solvedURLs[d.URL] {
			cleanDecoys = append(cleanDecoys, d)
		}
	}

	result := &EvalResult{
		Folds:   e.cfg.Folds,
		K:       e.cfg.K,
		Samples: len(shuffled),
		Decoys:  len(cleanDecoys),
		PerFold: make([]FoldMetrics, 0, e.cfg.Folds),
	}

	foldSize := len(shuffled) / e.cfg.Folds
	for fold := 0; fold < e.cfg.Folds; fold++ {
		start := fold * foldSize
		end := start + foldSize
		if fold == e.cfg.Folds-1 {
			end = len(shuffled)
		}

		test := shuffled[start:end]
		train := make([]domain.SolvedIssue, 0, len(shuffled)-len(test))
		train = append(train, shuffled[:start]...)
		train = append(train, shuffled[end:]...)

		metrics := e.evaluateFold(user, train, test, cleanDecoys, now)
		metrics.Fold = fold + 1
		metrics.TrainSize = len(train)
		metrics.TestSize = len(test)
		result.PerFold = append(result.PerFold, metrics)
	}

	result.Precision = summarize(result.PerFold, func(m FoldMetrics) float64 { return m.Precision })
	result.Recall = summarize(result.PerFold, func(m FoldMetrics) float64 { return m.Recall })
	result.F1 = summarize(result.PerFold, func(m FoldMetrics) float64 { return m.F1 })
	result.HitRate = summarize(result.PerFold, func(m FoldMetrics) float64 { return m.HitRate })
	result.NDCG = summarize(result.PerFold, func(m FoldMetrics) float64 { return m.NDCG })
	return result, nil
}

// evaluateFold ranks the held-out issues mixed into the decoy pool using a
// profile derived from the training portion alone.
func (e *Evaluator) evaluateFold(user *domain.User, train, test []domain.SolvedIssue, decoys []*domain.Issue, now time.Time) FoldMetrics {
	profile := profileFromHistory(user, train)

	candidates := make([]*domain.Issue, 0, len(decoys)+len(test))
	candidates = append(candidates, decoys...)
	truth := make(map[string]bool, len(test))
	for i := range test {
		candidates = append(candidates, issueFromSolved(&test[i]))
		truth[test[i].IssueURL] = true
	}

	ranked := e.scorer.Rank(profile, candidates, now)

	k := e.cfg.K
	if k > len(ranked) {
		k = len(ranked)
	}
	hits := 0
	dcg := 0.0
	for i := 0; i < k; i++ {
		if truth[ranked[i].Issue.URL] {
			hits++
			dcg += 1 / math.Log2(float64(i)+2)
		}
	}

	var m FoldMetrics
	if k > 0 {
		m.Precision = float64(hits) / float64(k)
	}
	if len(truth) > 0 {
		m.Recall = float64(hits) / float64(len(truth))
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}

	denom := min(k, len(truth))
	if denom > 0 {
		m.HitRate = float64(hits) / float64(denom)
	}

	idealDCG := 0.0
	for i := 0; i < denom; i++ {
		idealDCG += 1 / math.Log2(float64(i)+2)
	}
	if idealDCG > 0 {
		m.NDCG = dcg / idealDCG
	}
	return m
}

// profileFromHistory builds the scoring profile the training fold implies:
// the user's declared level and preferences plus per-language solve counts
// from the training issues only.
func profileFromHistory(user *domain.User, train []domain.SolvedIssue) *Profile {
	profile := &Profile{
		Level:           domain.LevelBeginner,
		SolvedLanguages: make(map[string]int, 4),
	}
	if user != nil {
		if user.Level != "" {
			profile.Level = user.Level
		}
		for _, lang := range user.PreferredLanguages {
			if lang = strings.ToLower(strings.TrimSpace(lang)); lang != "" {
				profile.PreferredLanguages = append(profile.PreferredLanguages, lang)
			}
		}
	}
	for _, s := range train {
		if lang := strings.ToLower(strings.TrimSpace(s.Language)); lang != "" {
			profile.SolvedLanguages[lang]++
		}
	}
	return profile
}

// issueFromSolved reconstructs the cached-issue view of a solved history row
// so the scorer can rank it against live candidates.
func issueFromSolved(s *domain.SolvedIssue) *domain.Issue {
	return &domain.Issue{
		URL:        s.IssueURL,
		Title:      s.Title,
		Language:   s.Language,
		Labels:     s.Labels,
		Difficulty: s.Difficulty,
		CreatedAt:  s.SolvedAt,
	}
}

func summarize(folds []FoldMetrics, value func(FoldMetrics) float64) MetricSummary {
	if len(folds) == 0 {
		return MetricSummary{}
	}

	sum := 0.0
	minV := math.Inf(1)
	maxV := math.Inf(-1)
	for _, f := range folds {
		v := value(f)
		sum += v
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	mean := sum / float64(len(folds))

	variance := 0.0
	for _, f := range folds {
		d := value(f) - mean
		variance += d * d
	}
	variance /= float64(len(folds))

	return MetricSummary{Mean: mean, Std: math.Sqrt(variance), Min: minV, Max: maxV}
}
