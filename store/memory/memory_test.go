package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	ragchat "github.com/langdocs/ragchat"
)

// mapEmbedder returns canned vectors keyed by text.
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

func testEmbedder() *mapEmbedder {
	return &mapEmbedder{vectors: map[string][]float32{
		"agents run tools":        {1, 0, 0},
		"memory keeps history":    {0, 1, 0},
		"agents with memory":      {0.7, 0.7, 0},
		"how do agents use tools": {1, 0.1, 0},
	}}
}

func TestMemoryStore_New(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore(testEmbedder())
	if ms == nil {
		t.Fatal("store should not be nil")
	}

	var _ ragchat.VectorStore = ms
}

func TestMemoryStore_AddAndSearch(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore(testEmbedder())
	ctx := context.Background()

	docs := []ragchat.Document{
		{ID: "agents", Content: "agents run tools", Metadata: map[string]any{"category": "agents"}},
		{ID: "memory", Content: "memory keeps history", Metadata: map[string]any{"category": "memory"}},
		{ID: "both", Content: "agents with memory", Metadata: map[string]any{"category": "agents"}},
	}
	if err := ms.Add(ctx, docs); err != nil {
		t.Fatalf("failed to add: %v", err)
	}

	results, err := ms.Search(ctx, "how do agents use tools", 2)
	if err != nil {
		t.Fatalf("failed to search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Document.ID != "agents" {
		t.Errorf("expected agents first, got %s", results[0].Document.ID)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("results not sorted by score: %f <= %f", results[0].Score, results[1].Score)
	}
}

func TestMemoryStore_SearchWithFilter(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore(testEmbedder())
	ctx := context.Background()

	docs := []ragchat.Document{
		{ID: "agents", Content: "agents run tools", Metadata: map[string]any{"category": "agents"}},
		{ID: "memory", Content: "memory keeps history", Metadata: map[string]any{"category": "memory"}},
	}
	if err := ms.Add(ctx, docs); err != nil {
		t.Fatalf("failed to add: %v", err)
	}

	results, err := ms.SearchWithFilter(ctx, "how do agents use tools", 5, map[string]any{"category": "memory"})
	if err != nil {
		t.Fatalf("failed to search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Document.ID != "memory" {
		t.Errorf("filter not applied, got %s", results[0].Document.ID)
	}
}

func TestMemoryStore_AddReplacesExistingID(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore(testEmbedder())
	ctx := context.Background()

	first := ragchat.Document{ID: "doc", Content: "agents run tools"}
	if err := ms.Add(ctx, []ragchat.Document{first}); err != nil {
		t.Fatalf("failed to add: %v", err)
	}

	second := ragchat.Document{ID: "doc", Content: "memory keeps history"}
	if err := ms.Add(ctx, []ragchat.Document{second}); err != nil {
		t.Fatalf("failed to re-add: %v", err)
	}

	stats, err := ms.Stats(ctx)
	if err != nil {
		t.Fatalf("failed to get stats: %v", err)
	}
	if stats.TotalDocuments != 1 {
		t.Errorf("expected 1 document after replace, got %d", stats.TotalDocuments)
	}

	results, err := ms.Search(ctx, "memory keeps history", 1)
	if err != nil {
		t.Fatalf("failed to search: %v", err)
	}
	if results[0].Document.Content != "memory keeps history" {
		t.Errorf("replace did not take effect: %q", results[0].Document.Content)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore(testEmbedder())
	ctx := context.Background()

	docs := []ragchat.Document{
		{ID: "agents", Content: "agents run tools"},
		{ID: "memory", Content: "memory keeps history"},
	}
	if err := ms.Add(ctx, docs); err != nil {
		t.Fatalf("failed to add: %v", err)
	}

	if err := ms.Delete(ctx, []string{"agents", "unknown"}); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}

	stats, _ := ms.Stats(ctx)
	if stats.TotalDocuments != 1 {
		t.Errorf("expected 1 document after delete, got %d", stats.TotalDocuments)
	}

	results, err := ms.Search(ctx, "agents run tools", 5)
	if err != nil {
		t.Fatalf("failed to search: %v", err)
	}
	for _, r := range results {
		if r.Document.ID == "agents" {
			t.Error("deleted document still returned")
		}
	}
}

func TestMemoryStore_Stats(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore(testEmbedder())
	ctx := context.Background()

	stats, err := ms.Stats(ctx)
	if err != nil {
		t.Fatalf("failed to get stats: %v", err)
	}
	if stats.TotalDocuments != 0 || stats.Dimension != 0 {
		t.Errorf("empty store should report zeros, got %+v", stats)
	}

	if err := ms.Add(ctx, []ragchat.Document{{ID: "a", Content: "agents run tools"}}); err != nil {
		t.Fatalf("failed to add: %v", err)
	}

	stats, _ = ms.Stats(ctx)
	if stats.TotalDocuments != 1 {
		t.Errorf("expected 1 document, got %d", stats.TotalDocuments)
	}
	if stats.Dimension != 3 {
		t.Errorf("expected dimension 3, got %d", stats.Dimension)
	}
	if stats.LastUpdated.IsZero() {
		t.Error("LastUpdated should be set after add")
	}
}

func TestMemoryStore_EmptySearch(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore(testEmbedder())

	results, err := ms.Search(context.Background(), "agents run tools", 5)
	if err != nil {
		t.Fatalf("search on empty store failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}

	if _, err := ms.Search(context.Background(), "agents run tools", 0); err == nil {
		t.Error("expected error for k = 0")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore(testEmbedder())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			doc := ragchat.Document{ID: fmt.Sprintf("doc-%d", n), Content: "agents run tools"}
			if err := ms.Add(ctx, []ragchat.Document{doc}); err != nil {
				t.Errorf("concurrent add failed: %v", err)
			}
			if _, err := ms.Search(ctx, "agents run tools", 3); err != nil {
				t.Errorf("concurrent search failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	stats, _ := ms.Stats(ctx)
	if stats.TotalDocuments != 8 {
		t.Errorf("expected 8 documents, got %d", stats.TotalDocuments)
	}
}
