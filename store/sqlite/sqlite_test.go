package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragchat "github.com/langdocs/ragchat"
)

type mapEmbedder struct {
	vectors map[string][]float32
}

func (e *mapEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, ok := e.vectors[text]
		if !ok {
			return nil, fmt.Errorf("no vector for %q", text)
		}
		out[i] = vec
	}
	return out, nil
}

func (e *mapEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()

	vs, err := NewSqliteStore(SqliteOptions{
		Path: filepath.Join(t.TempDir(), "docs.db"),
	}, &mapEmbedder{vectors: map[string][]float32{
		"agents run tools":     {1, 0, 0},
		"memory keeps history": {0, 1, 0},
		"agents with memory":   {0.7, 0.7, 0},
		"tell me about agents": {1, 0.1, 0},
	}})
	require.NoError(t, err)
	t.Cleanup(func() { vs.Close() })

	return vs
}

func TestSqliteStore(t *testing.T) {
	vs := newTestStore(t)
	ctx := context.Background()

	docs := []ragchat.Document{
		{ID: "agents", Content: "agents run tools", Metadata: map[string]any{"category": "agents"}, CreatedAt: time.Now()},
		{ID: "memory", Content: "memory keeps history", Metadata: map[string]any{"category": "memory"}, CreatedAt: time.Now()},
		{ID: "both", Content: "agents with memory", Metadata: map[string]any{"category": "agents"}, CreatedAt: time.Now()},
	}

	// Add
	err := vs.Add(ctx, docs)
	require.NoError(t, err)

	// Search
	results, err := vs.Search(ctx, "tell me about agents", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "agents", results[0].Document.ID)
	assert.Equal(t, "agents run tools", results[0].Document.Content)
	assert.Equal(t, "agents", results[0].Document.Metadata["category"])
	assert.Greater(t, results[0].Score, results[1].Score)

	// SearchWithFilter
	filtered, err := vs.SearchWithFilter(ctx, "tell me about agents", 5, map[string]any{"category": "memory"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "memory", filtered[0].Document.ID)

	// Stats
	stats, err := vs.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalDocuments)
	assert.Equal(t, 3, stats.Dimension)
	assert.False(t, stats.LastUpdated.IsZero())

	// Delete
	err = vs.Delete(ctx, []string{"agents"})
	require.NoError(t, err)

	results, err = vs.Search(ctx, "tell me about agents", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, "agents", r.Document.ID)
	}
}

func TestSqliteStore_Upsert(t *testing.T) {
	vs := newTestStore(t)
	ctx := context.Background()

	err := vs.Add(ctx, []ragchat.Document{{ID: "doc", Content: "agents run tools", CreatedAt: time.Now()}})
	require.NoError(t, err)

	err = vs.Add(ctx, []ragchat.Document{{ID: "doc", Content: "memory keeps history", CreatedAt: time.Now()}})
	require.NoError(t, err)

	stats, err := vs.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalDocuments)

	results, err := vs.Search(ctx, "memory keeps history", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "memory keeps history", results[0].Document.Content)
}

func TestSqliteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	embedder := &mapEmbedder{vectors: map[string][]float32{
		"agents run tools": {1, 0, 0},
	}}

	vs, err := NewSqliteStore(SqliteOptions{Path: path}, embedder)
	require.NoError(t, err)
	require.NoError(t, vs.Add(context.Background(), []ragchat.Document{
		{ID: "agents", Content: "agents run tools", CreatedAt: time.Now()},
	}))
	require.NoError(t, vs.Close())

	reopened, err := NewSqliteStore(SqliteOptions{Path: path}, embedder)
	require.NoError(t, err)
	defer reopened.Close()

	results, err := reopened.Search(context.Background(), "agents run tools", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "agents", results[0].Document.ID)
}

func TestSqliteStore_EmptySearch(t *testing.T) {
	vs := newTestStore(t)

	results, err := vs.Search(context.Background(), "tell me about agents", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = vs.Search(context.Background(), "tell me about agents", -1)
	assert.Error(t, err)

	stats, err := vs.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalDocuments)
}
