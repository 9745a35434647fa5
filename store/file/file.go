// Package file provides a vector store persisted as one JSON file per
// document under a directory. The index is held in memory and survives
// process restarts, which suits single-node deployments without a database.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	ragchat "github.com/langdocs/ragchat"
	"github.com/langdocs/ragchat/store"
)

// FileStore implements ragchat.VectorStore backed by a directory of JSON
// files. It is safe for concurrent use within a single process; it does not
// coordinate between processes.
type FileStore struct {
	mu        sync.RWMutex
	dir       string
	embedder  ragchat.Embedder
	docs      map[string]storedDocument
	updatedAt time.Time
}

var _ ragchat.VectorStore = (*FileStore)(nil)

type storedDocument struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"embedding"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewFileStore opens the store at dir, creating the directory if missing and
// loading any documents already persisted there.
func NewFileStore(dir string, embedder ragchat.Embedder) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	fs := &FileStore{
		dir:      dir,
		embedder: embedder,
		docs:     make(map[string]storedDocument),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		var doc storedDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", entry.Name(), err)
		}
		fs.docs[doc.ID] = doc

		if info, err := entry.Info(); err == nil && info.ModTime().After(fs.updatedAt) {
			fs.updatedAt = info.ModTime()
		}
	}

	return fs, nil
}

func (s *FileStore) docPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Add stores documents, replacing any existing document with the same ID.
// Each document is written to its own file before the in-memory index is
// updated.
func (s *FileStore) Add(ctx context.Context, docs []ragchat.Document) error {
	embeddings, err := store.EmbedAll(ctx, s.embedder, docs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, doc := range docs {
		stored := storedDocument{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Embedding: embeddings[i],
			CreatedAt: doc.CreatedAt,
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to marshal document %s: %w", doc.ID, err)
		}
		if err := os.WriteFile(s.docPath(doc.ID), data, 0o644); err != nil {
			return fmt.Errorf("failed to write document %s: %w", doc.ID, err)
		}

		s.docs[doc.ID] = stored
	}
	s.updatedAt = time.Now()
	return nil
}

// Search returns the k documents most similar to the query.
func (s *FileStore) Search(ctx context.Context, query string, k int) ([]ragchat.SearchResult, error) {
	return s.SearchWithFilter(ctx, query, k, nil)
}

// SearchWithFilter returns the k most similar documents whose metadata
// matches every filter entry.
func (s *FileStore) SearchWithFilter(ctx context.Context, query string, k int, filter map[string]any) ([]ragchat.SearchResult, error) {
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

	results := make([]ragchat.SearchResult, 0, len(s.docs))
	for _, stored := range s.docs {
		if !store.MatchesFilter(stored.Metadata, filter) {
			continue
		}
		results = append(results, ragchat.SearchResult{
			Document: ragchat.Document{
				ID:        stored.ID,
				Content:   stored.Content,
				Metadata:  stored.Metadata,
				Embedding: stored.Embedding,
				CreatedAt: stored.CreatedAt,
			},
			Score: store.CosineSimilarity(queryEmbedding, stored.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Document.ID < results[j].Document.ID
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// Delete removes the documents with the given IDs and their files.
func (s *FileStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if err := os.Remove(s.docPath(id)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove document %s: %w", id, err)
		}
		delete(s.docs, id)
	}
	s.updatedAt = time.Now()
	return nil
}

// Stats reports the store's current size and embedding dimension.
func (s *FileStore) Stats(ctx context.Context) (ragchat.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := ragchat.StoreStats{
		TotalDocuments: len(s.docs),
		LastUpdated:    s.updatedAt,
	}
	for _, doc := range s.docs {
		stats.Dimension = len(doc.Embedding)
		break
	}
	return stats, nil
}

// Close releases the in-memory index. Files on disk are untouched.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs = nil
	return nil
}
