// Package memory provides an in-memory vector store. Contents are lost when
// the process exits, which makes it the right backend for tests and local
// experiments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	ragchat "github.com/langdocs/ragchat"
	"github.com/langdocs/ragchat/store"
)

// MemoryStore keeps documents and their embeddings in process memory.
// It is safe for concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex
	documents  []ragchat.Document
	embeddings [][]float32
	embedder   ragchat.Embedder
	updatedAt  time.Time
}

var _ ragchat.VectorStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store. The embedder generates
// vectors for documents added without one and embeds search queries.
func NewMemoryStore(embedder ragchat.Embedder) *MemoryStore {
	return &MemoryStore{
		documents:  make([]ragchat.Document, 0),
		embeddings: make([][]float32, 0),
		embedder:   embedder,
	}
}

// Add stores documents, replacing any existing document with the same ID.
func (s *MemoryStore) Add(ctx context.Context, docs []ragchat.Document) error {
	embeddings, err := store.EmbedAll(ctx, s.embedder, docs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, doc := range docs {
		if j, ok := s.indexOf(doc.ID); ok {
			s.documents[j] = doc
			s.embeddings[j] = embeddings[i]
			continue
		}
		s.documents = append(s.documents, doc)
		s.embeddings = append(s.embeddings, embeddings[i])
	}
	s.updatedAt = time.Now()
	return nil
}

// Search returns the k documents most similar to the query.
func (s *MemoryStore) Search(ctx context.Context, query string, k int) ([]ragchat.SearchResult, error) {
	return s.SearchWithFilter(ctx, query, k, nil)
}

// SearchWithFilter returns the k most similar documents whose metadata
// matches every filter entry.
func (s *MemoryStore) SearchWithFilter(ctx context.Context, query string, k int, filter map[string]any) ([]ragchat.SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}

	queryEmbedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]ragchat.SearchResult, 0, len(s.documents))
	for i, doc := range s.documents {
		if !store.MatchesFilter(doc.Metadata, filter) {
			continue
		}
		results = append(results, ragchat.SearchResult{
			Document: doc,
			Score:    store.CosineSimilarity(queryEmbedding, s.embeddings[i]),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// Delete removes the documents with the given IDs. Unknown IDs are ignored.
func (s *MemoryStore) Delete(ctx context.Context, ids []string) error {
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.documents[:0]
	keptEmbeddings := s.embeddings[:0]
	for i, doc := range s.documents {
		if !idSet[doc.ID] {
			kept = append(kept, doc)
			keptEmbeddings = append(keptEmbeddings, s.embeddings[i])
		}
	}
	s.documents = kept
	s.embeddings = keptEmbeddings
	s.updatedAt = time.Now()
	return nil
}

// Stats reports the store's current size and embedding dimension.
func (s *MemoryStore) Stats(ctx context.Context) (ragchat.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := ragchat.StoreStats{
		TotalDocuments: len(s.documents),
		LastUpdated:    s.updatedAt,
	}
	if len(s.embeddings) > 0 {
		stats.Dimension = len(s.embeddings[0])
	}
	return stats, nil
}

// Close clears the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents = nil
	s.embeddings = nil
	return nil
}

// indexOf must be called with the lock held.
func (s *MemoryStore) indexOf(id string) (int, bool) {
	for i, doc := range s.documents {
		if doc.ID == id {
			return i, true
		}
	}
	return 0, false
}
