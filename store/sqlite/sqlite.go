package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	_ "github.com/mattn/go-sqlite3"

	ragchat "github.com/langdocs/ragchat"
	"github.com/langdocs/ragchat/store"
)

// SqliteStore implements ragchat.VectorStore using SQLite. Embeddings are
// stored as little-endian float32 blobs and scored client side.
type SqliteStore struct {
	db        *sql.DB
	embedder  ragchat.Embedder
	tableName string
}

var _ ragchat.VectorStore = (*SqliteStore)(nil)

// SqliteOptions configuration for the SQLite database
type SqliteOptions struct {
	Path      string
	TableName string // Default "documents"
}

// NewSqliteStore creates a new SQLite vector store
func NewSqliteStore(opts SqliteOptions, embedder ragchat.Embedder) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "documents"
	}

	vs := &SqliteStore{
		db:        db,
		embedder:  embedder,
		tableName: tableName,
	}

	if err := vs.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return vs, nil
}

// InitSchema creates the necessary table if it doesn't exist
func (s *SqliteStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			metadata TEXT,
			embedding BLOB NOT NULL,
			created_at DATETIME NOT NULL
		);
	`, s.tableName)

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Add stores documents, replacing any existing document with the same ID.
func (s *SqliteStore) Add(ctx context.Context, docs []ragchat.Document) error {
	embeddings, err := store.EmbedAll(ctx, s.embedder, docs)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, metadata, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			created_at = excluded.created_at
	`, s.tableName)

	for i, doc := range docs {
		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", doc.ID, err)
		}

		_, err = s.db.ExecContext(ctx, query,
			doc.ID,
			doc.Content,
			string(metadataJSON),
			store.EncodeVector(embeddings[i]),
			doc.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
		}
	}

	return nil
}

// Search returns the k documents most similar to the query.
func (s *SqliteStore) Search(ctx context.Context, query string, k int) ([]ragchat.SearchResult, error) {
	return s.SearchWithFilter(ctx, query, k, nil)
}

// SearchWithFilter returns the k most similar documents whose metadata
// matches every filter entry. All rows are scanned and scored in memory.
func (s *SqliteStore) SearchWithFilter(ctx context.Context, query string, k int, filter map[string]any) ([]ragchat.SearchResult, error) {
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

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT id, content, metadata, embedding, created_at FROM %s", s.tableName,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var results []ragchat.SearchResult
	for rows.Next() {
		var doc ragchat.Document
		var metadataJSON string
		var embeddingBlob []byte

		if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON, &embeddingBlob, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal([]byte(metadataJSON), &doc.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", doc.ID, err)
			}
		}
		if !store.MatchesFilter(doc.Metadata, filter) {
			continue
		}

		embedding, err := store.DecodeVector(embeddingBlob)
		if err != nil {
			return nil, fmt.Errorf("failed to decode embedding for %s: %w", doc.ID, err)
		}
		doc.Embedding = embedding

		results = append(results, ragchat.SearchResult{
			Document: doc,
			Score:    store.CosineSimilarity(queryEmbedding, embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating document rows: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// Delete removes the documents with the given IDs.
func (s *SqliteStore) Delete(ctx context.Context, ids []string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.tableName)
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, query, id); err != nil {
			return fmt.Errorf("failed to delete document %s: %w", id, err)
		}
	}
	return nil
}

// Stats reports the store's current size and embedding dimension.
func (s *SqliteStore) Stats(ctx context.Context) (ragchat.StoreStats, error) {
	var stats ragchat.StoreStats

	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT COUNT(*) FROM %s", s.tableName,
	)).Scan(&stats.TotalDocuments)
	if err != nil {
		return stats, fmt.Errorf("failed to count documents: %w", err)
	}

	if stats.TotalDocuments == 0 {
		return stats, nil
	}

	var embeddingBlob []byte
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT embedding, created_at FROM %s ORDER BY created_at DESC LIMIT 1", s.tableName,
	)).Scan(&embeddingBlob, &stats.LastUpdated)
	if err != nil {
		return stats, fmt.Errorf("failed to sample document: %w", err)
	}

	if vec, err := store.DecodeVector(embeddingBlob); err == nil {
		stats.Dimension = len(vec)
	}

	return stats, nil
}

// Close closes the database connection
func (s *SqliteStore) Close() error {
	return s.db.Close()
}
