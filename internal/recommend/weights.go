package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const (
	weightSumTolerance = 1e-6
	reloadDebounce     = 200 * time.Millisecond
)

// Weights assigns each scoring feature its share of the final score. Valid
// weights are non-negative and sum to 1.0.
type Weights struct {
	DifficultyMatch float64 `yaml:"difficulty_match"`
	LanguageMatch   float64 `yaml:"language_match"`
	RepoPopularity  float64 `yaml:"repo_popularity"`
	IssueFreshness  float64 `yaml:"issue_freshness"`
	LabelRelevance  float64 `yaml:"label_relevance"`
}

// DefaultWeights returns the built-in scoring weights.
func DefaultWeights() Weights {
	return Weights{
		DifficultyMatch: 0.30,
		LanguageMatch:   0.25,
		RepoPopularity:  0.20,
		IssueFreshness:  0.15,
		LabelRelevance:  0.10,
	}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.DifficultyMatch + w.LanguageMatch + w.RepoPopularity + w.IssueFreshness + w.LabelRelevance
}

// Validate checks that the weights are non-negative and sum to 1.0.
func (w Weights) Validate() error {
	for name, value := range map[string]float64{
		"difficulty_match": w.DifficultyMatch,
		"language_match":   w.LanguageMatch,
		"repo_popularity":  w.RepoPopularity,
		"issue_freshness":  w.IssueFreshness,
		"label_relevance":  w.LabelRelevance,
	} {
		if value < 0 {
			return fmt.Errorf("weight %s is negative: %g", name, value)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("weights must sum to 1.0, got %g", sum)
	}
	return nil
}

// Apply computes the weighted score for a feature vector.
func (w Weights) Apply(f Features) float64 {
	return w.DifficultyMatch*f.DifficultyMatch +
		w.LanguageMatch*f.LanguageMatch +
		w.RepoPopularity*f.RepoPopularity +
		w.IssueFreshness*f.IssueFreshness +
		w.LabelRelevance*f.LabelRelevance
}

// LoadWeights reads and validates a weights YAML file.
func LoadWeights(path string) (Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Weights{}, fmt.Errorf("failed to read weights file: %w", err)
	}
	var w Weights
	if err := yaml.Unmarshal(data, &w); err != nil {
		return Weights{}, fmt.Errorf("failed to parse weights file: %w", err)
	}
	if err := w.Validate(); err != nil {
		return Weights{}, err
	}
	return w, nil
}

// WeightsSource holds the scoring weights currently in effect and swaps them
// atomically when the backing file changes. With no file configured it serves
// the defaults forever.
type WeightsSource struct {
	path string

	mu      sync.RWMutex
	weights Weights
}

// NewWeightsSource creates a source seeded from the file at path, falling
// back to the defaults when path is empty or the file cannot be loaded.
func NewWeightsSource(path string) *WeightsSource {
	s := &WeightsSource{path: path, weights: DefaultWeights()}
	if path == "" {
		return s
	}
	w, err := LoadWeights(path)
	if err != nil {
		slog.Warn("Using default scoring weights", "path", path, "error", err)
		return s
	}
	s.weights = w
	slog.Info("Loaded scoring weights", "path", path)
	return s
}

// Current returns the weights in effect.
func (s *WeightsSource) Current() Weights {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.weights
}

// Reload re-reads the backing file and swaps the weights in. Invalid or
// unreadable files leave the previous weights in effect and return the error.
func (s *WeightsSource) Reload() error {
	if s.path == "" {
		return nil
	}
	w, err := LoadWeights(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.weights = w
	s.mu.Unlock()
	return nil
}

// Watch reloads the weights whenever the backing file changes, until ctx is
// cancelled. The parent directory is watched rather than the file itself so
// editors that replace the file on save keep triggering reloads. No-op when
// no file is configured.
func (s *WeightsSource) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create weights watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch weights directory: %w", err)
	}
	slog.Info("Watching scoring weights file", "path", s.path)
	go s.run(ctx, watcher)
	return nil
}

func (s *WeightsSource) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	// Rapid save sequences collapse into one reload per debounce tick.
	debounce := time.NewTicker(reloadDebounce)
	defer debounce.Stop()

	base := filepath.Base(s.path)
	dirty := false
	for {
		select {
		case <-ctx.Done():
			slog.Info("Weights watcher shutting down")
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			dirty = true
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Weights watcher error", "error", err)
		case <-debounce.C:
			if !dirty {
				continue
			}
			dirty = false
			if err := s.Reload(); err != nil {
				slog.Warn("Rejected weights update; keeping previous weights", "path", s.path, "error", err)
				continue
			}
			slog.Info("Scoring weights reloaded", "path", s.path)
		}
	}
}
