package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	ragchat "github.com/langdocs/ragchat"
	"github.com/langdocs/ragchat/store"
)

// DefaultDimension matches OpenAI's text-embedding-3-small vectors.
const DefaultDimension = 1536

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements ragchat.VectorStore using PostgreSQL with the
// pgvector extension. Similarity is scored server side with the cosine
// distance operator.
type PostgresStore struct {
	pool      DBPool
	embedder  ragchat.Embedder
	tableName string
	dimension int
}

var _ ragchat.VectorStore = (*PostgresStore)(nil)

// PostgresOptions configuration for the Postgres connection
type PostgresOptions struct {
	ConnString string
	TableName  string // Default "documents"
	Dimension  int    // Embedding dimension, default 1536
}

// NewPostgresStore creates a new Postgres vector store
func NewPostgresStore(ctx context.Context, opts PostgresOptions, embedder ragchat.Embedder) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	vs := newWithPool(pool, embedder, opts.TableName, opts.Dimension)
	if err := vs.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return vs, nil
}

// NewPostgresStoreWithPool creates a new Postgres vector store with an existing pool.
// Useful for testing with mocks. InitSchema is not called.
func NewPostgresStoreWithPool(pool DBPool, embedder ragchat.Embedder, tableName string, dimension int) *PostgresStore {
	return newWithPool(pool, embedder, tableName, dimension)
}

func newWithPool(pool DBPool, embedder ragchat.Embedder, tableName string, dimension int) *PostgresStore {
	if tableName == "" {
		tableName = "documents"
	}
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &PostgresStore{
		pool:      pool,
		embedder:  embedder,
		tableName: tableName,
		dimension: dimension,
	}
}

// InitSchema enables the pgvector extension and creates the table and HNSW
// index if they don't exist
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			metadata JSONB,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING hnsw (embedding vector_cosine_ops);
	`, s.tableName, s.dimension, s.tableName, s.tableName)

	_, err := s.pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Add stores documents, replacing any existing document with the same ID.
func (s *PostgresStore) Add(ctx context.Context, docs []ragchat.Document) error {
	embeddings, err := store.EmbedAll(ctx, s.embedder, docs)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, metadata, embedding, created_at)
		VALUES ($1, $2, $3, $4::vector, $5)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			created_at = EXCLUDED.created_at
	`, s.tableName)

	for i, doc := range docs {
		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", doc.ID, err)
		}

		_, err = s.pool.Exec(ctx, query,
			doc.ID,
			doc.Content,
			metadataJSON,
			store.VectorLiteral(embeddings[i]),
			doc.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
		}
	}

	return nil
}

// Search returns the k documents most similar to the query.
func (s *PostgresStore) Search(ctx context.Context, query string, k int) ([]ragchat.SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	queryEmbedding, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
		SELECT id, content, metadata, created_at, 1 - (embedding <=> $1::vector) AS score
		FROM %s
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`, s.tableName)

	rows, err := s.pool.Query(ctx, sql, store.VectorLiteral(queryEmbedding), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	return scanResults(rows)
}

// SearchWithFilter returns the k most similar documents whose metadata
// contains every filter entry. The filter is matched with the JSONB
// containment operator.
func (s *PostgresStore) SearchWithFilter(ctx context.Context, query string, k int, filter map[string]any) ([]ragchat.SearchResult, error) {
	if len(filter) == 0 {
		return s.Search(ctx, query, k)
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	queryEmbedding, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal filter: %w", err)
	}

	sql := fmt.Sprintf(`
		SELECT id, content, metadata, created_at, 1 - (embedding <=> $1::vector) AS score
		FROM %s
		WHERE metadata @> $3::jsonb
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`, s.tableName)

	rows, err := s.pool.Query(ctx, sql, store.VectorLiteral(queryEmbedding), k, filterJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	return scanResults(rows)
}

// Delete removes the documents with the given IDs.
func (s *PostgresStore) Delete(ctx context.Context, ids []string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", s.tableName)
	if _, err := s.pool.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// Stats reports the store's current size and embedding dimension.
func (s *PostgresStore) Stats(ctx context.Context) (ragchat.StoreStats, error) {
	stats := ragchat.StoreStats{Dimension: s.dimension}

	query := fmt.Sprintf(
		"SELECT COUNT(*), COALESCE(MAX(created_at), 'epoch'::timestamptz) FROM %s", s.tableName,
	)

	var lastUpdated time.Time
	if err := s.pool.QueryRow(ctx, query).Scan(&stats.TotalDocuments, &lastUpdated); err != nil {
		return stats, fmt.Errorf("failed to count documents: %w", err)
	}
	if stats.TotalDocuments > 0 {
		stats.LastUpdated = lastUpdated
	}

	return stats, nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	embedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return embedding, nil
}

func scanResults(rows pgx.Rows) ([]ragchat.SearchResult, error) {
	var results []ragchat.SearchResult
	for rows.Next() {
		var doc ragchat.Document
		var metadataJSON []byte
		var score float64

		if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON, &doc.CreatedAt, &score); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", doc.ID, err)
			}
		}

		results = append(results, ragchat.SearchResult{
			Document: doc,
			Score:    float32(score),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating document rows: %w", err)
	}
	return results, nil
}
