// Package embedding provides vector embedding generation for similarity
// search over solved-issue documents. Supports Ollama (local) and Google
// GenAI (cloud) backends.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/osscout/scout/internal/config"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// NewEngine creates an embedding engine based on configuration. A nil engine
// with nil error means embeddings are disabled; callers fall back to keyword
// search.
func NewEngine(ctx context.Context, cfg config.EmbeddingConfig, geminiAPIKey string) (Engine, error) {
	switch cfg.Provider {
	case "":
		slog.Info("Embeddings disabled; similarity search will use keyword matching")
		return nil, nil
	case "ollama":
		engine, err := NewOllamaEngine(cfg.OllamaHost, cfg.OllamaModel)
		if err != nil {
			return nil, err
		}
		slog.Info("Embedding engine ready", "engine", engine.Name(), "dimensions", engine.Dimensions())
		return engine, nil
	case "gemini":
		engine, err := NewGenAIEngine(ctx, geminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		slog.Info("Embedding engine ready", "engine", engine.Name(), "dimensions", engine.Dimensions())
		return engine, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'gemini')", cfg.Provider)
	}
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical, 0 means
// orthogonal. A zero-magnitude vector yields 0 rather than an error.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dotProduct, aMagnitude, bMagnitude float64
	for i := 0; i < len(a); i++ {
		dotProduct += float64(a[i] * b[i])
		aMagnitude += float64(a[i] * a[i])
		bMagnitude += float64(b[i] * b[i])
	}

	if aMagnitude == 0 || bMagnitude == 0 {
		return 0, nil
	}

	return dotProduct / (math.Sqrt(aMagnitude) * math.Sqrt(bMagnitude)), nil
}

// SimilarityResult represents a similarity search result.
type SimilarityResult struct {
	Index      int
	Similarity float64
}

// FindTopK returns the top K corpus vectors most similar to the query,
// sorted by similarity descending. Vectors with mismatched dimensions are
// skipped.
func FindTopK(query []float32, corpus [][]float32, k int) []SimilarityResult {
	if k <= 0 {
		k = 10
	}

	results := make([]SimilarityResult, 0, len(corpus))
	skipped := 0
	for i, vec := range corpus {
		similarity, err := CosineSimilarity(query, vec)
		if err != nil {
			skipped++
			continue
		}
		results = append(results, SimilarityResult{Index: i, Similarity: similarity})
	}
	if skipped > 0 {
		slog.Warn("Similarity search skipped vectors with mismatched dimensions", "skipped", skipped)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Index < results[j].Index
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}
