package rag

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osscout/scout/internal/domain"
	"github.com/osscout/scout/internal/store"
)

// stubEngine returns canned vectors keyed by input text so tests can steer
// similarity rankings without a real embedding backend.
type stubEngine struct {
	vectors map[string][]float32
	failAll bool
}

func (e *stubEngine) Embed(_ context.Context, text string) ([]float32, error) {
	if e.failAll {
		return nil, fmt.Errorf("embedding backend unavailable")
	}
	if vec, ok := e.vectors[text]; ok {
		return vec, nil
	}
	return []float32{0, 0, 1}, nil
}

func (e *stubEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *stubEngine) Dimensions() int { return 3 }
func (e *stubEngine) Name() string    { return "stub" }

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "scout.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func solvedIssue(userID, urlPath, title, language string, labels ...string) *domain.SolvedIssue {
	return &domain.SolvedIssue{
		UserID:     userID,
		IssueURL:   "https://github.com/" + urlPath,
		Title:      title,
		Language:   language,
		Difficulty: domain.LevelBeginner,
		Labels:     labels,
		SolvedAt:   time.Now(),
	}
}

func TestDocIDStableAcrossCalls(t *testing.T) {
	a := DocID("user-1", "https://github.com/cli/cli/issues/1")
	b := DocID("user-1", "https://github.com/cli/cli/issues/1")
	c := DocID("user-2", "https://github.com/cli/cli/issues/1")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, `^doc_[0-9a-f]{16}$`, a)
}

func TestDocumentTextLayout(t *testing.T) {
	text := DocumentText(solvedIssue("u", "pallets/flask/issues/42", "Fix typo in docs", "python", "good first issue", "docs"))

	assert.Contains(t, text, "Issue: Fix typo in docs")
	assert.Contains(t, text, "Repository: pallets/flask")
	assert.Contains(t, text, "Language: python")
	assert.Contains(t, text, "Difficulty: beginner")
	assert.Contains(t, text, "Labels: good first issue, docs")
}

func TestIndexSolvedIssueStoresEmbedding(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	engine := &stubEngine{vectors: map[string][]float32{}}
	ragStore := New(repo, engine)

	solved := solvedIssue("user-1", "cli/cli/issues/1", "Add flag parsing", "go", "cli")
	engine.vectors[DocumentText(solved)] = []float32{1, 0, 0}

	require.NoError(t, ragStore.IndexSolvedIssue(ctx, solved))

	docs, err := repo.GetSolvedDocuments(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, []float32{1, 0, 0}, docs[0].Embedding)
	assert.Equal(t, "go", docs[0].Metadata["language"])
	assert.Equal(t, "cli/cli", docs[0].Metadata["repo"])
}

func TestIndexSolvedIssueIdempotentPerIssue(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	ragStore := New(repo, nil)

	solved := solvedIssue("user-1", "cli/cli/issues/1", "Add flag parsing", "go")
	require.NoError(t, ragStore.IndexSolvedIssue(ctx, solved))
	require.NoError(t, ragStore.IndexSolvedIssue(ctx, solved))

	docs, err := repo.GetSolvedDocuments(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestIndexSolvedIssueSurvivesEmbedFailure(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	ragStore := New(repo, &stubEngine{failAll: true})

	require.NoError(t, ragStore.IndexSolvedIssue(ctx, solvedIssue("user-1", "cli/cli/issues/1", "Add flag parsing", "go")))

	docs, err := repo.GetSolvedDocuments(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Empty(t, docs[0].Embedding)
}

func TestSearchSimilarRanksBySimilarity(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	engine := &stubEngine{vectors: map[string][]float32{"web framework work": {1, 0, 0}}}
	ragStore := New(repo, engine)

	near := solvedIssue("user-1", "pallets/flask/issues/1", "Fix routing bug", "python", "web")
	far := solvedIssue("user-1", "rust-lang/rust/issues/2", "Borrow checker docs", "rust")
	engine.vectors[DocumentText(near)] = []float32{0.9, 0.1, 0}
	engine.vectors[DocumentText(far)] = []float32{0, 1, 0}
	require.NoError(t, ragStore.IndexSolvedIssue(ctx, near))
	require.NoError(t, ragStore.IndexSolvedIssue(ctx, far))

	matches, err := ragStore.SearchSimilar(ctx, "user-1", "web framework work", 5)
	require.NoError(t, err)

	// The orthogonal document falls below the similarity floor.
	require.Len(t, matches, 1)
	assert.Equal(t, near.IssueURL, matches[0].Doc.IssueURL)
	assert.Greater(t, matches[0].Similarity, 0.5)
}

func TestSearchSimilarKeywordFallbacks(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, New(repo, nil).IndexSolvedIssue(ctx, solvedIssue("user-1", "pallets/flask/issues/1", "Fix routing bug", "python")))

	t.Run("no engine configured", func(t *testing.T) {
		ragStore := New(repo, nil)

		matches, err := ragStore.SearchSimilar(ctx, "user-1", "routing", 5)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Zero(t, matches[0].Similarity)
	})

	t.Run("engine fails at query time", func(t *testing.T) {
		ragStore := New(repo, &stubEngine{failAll: true})

		matches, err := ragStore.SearchSimilar(ctx, "user-1", "routing", 5)
		require.NoError(t, err)
		assert.Len(t, matches, 1)
	})

	t.Run("multi-word query probes individual terms", func(t *testing.T) {
		ragStore := New(repo, nil)

		matches, err := ragStore.SearchSimilar(ctx, "user-1", "what should I do about routing problems?", 5)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "user-1", matches[0].Doc.UserID)
	})

	t.Run("blank query returns nothing", func(t *testing.T) {
		matches, err := New(repo, nil).SearchSimilar(ctx, "user-1", "   ", 5)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
}

func TestSearchSimilarScopedToUser(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	ragStore := New(repo, nil)

	require.NoError(t, ragStore.IndexSolvedIssue(ctx, solvedIssue("user-1", "pallets/flask/issues/1", "Fix routing bug", "python")))
	require.NoError(t, ragStore.IndexSolvedIssue(ctx, solvedIssue("user-2", "pallets/flask/issues/2", "Fix routing docs", "python")))

	matches, err := ragStore.SearchSimilar(ctx, "user-1", "routing", 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "user-1", matches[0].Doc.UserID)
}

func TestAnalyzePatterns(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	ragStore := New(repo, nil)

	require.NoError(t, ragStore.IndexSolvedIssue(ctx, solvedIssue("user-1", "pallets/flask/issues/1", "Fix routing bug", "python", "web", "bug")))
	require.NoError(t, ragStore.IndexSolvedIssue(ctx, solvedIssue("user-1", "pallets/flask/issues/2", "Fix template bug", "python", "web")))
	require.NoError(t, ragStore.IndexSolvedIssue(ctx, solvedIssue("user-1", "cli/cli/issues/3", "Add flag parsing", "go", "cli")))

	patterns, err := ragStore.AnalyzePatterns(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, patterns)

	assert.Equal(t, 3, patterns.TotalSolved)
	require.NotEmpty(t, patterns.TopLanguages)
	assert.Equal(t, NameCount{Name: "python", Count: 2}, patterns.TopLanguages[0])
	assert.Equal(t, NameCount{Name: "pallets/flask", Count: 2}, patterns.TopRepos[0])
	assert.Equal(t, NameCount{Name: "web", Count: 2}, patterns.TopLabels[0])
	assert.Equal(t, domain.LevelBeginner, patterns.TypicalDifficulty)
}

func TestAnalyzePatternsEmptyHistory(t *testing.T) {
	patterns, err := New(newTestRepo(t), nil).AnalyzePatterns(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, patterns)
}
