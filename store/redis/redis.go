package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	ragchat "github.com/langdocs/ragchat"
	"github.com/langdocs/ragchat/store"
)

// RedisStore implements ragchat.VectorStore using Redis. Each document lives
// in its own hash and an index set tracks the document IDs. Similarity is
// scored client side against vectors stored as little-endian float32 bytes.
type RedisStore struct {
	client   *redis.Client
	embedder ragchat.Embedder
	prefix   string
	ttl      time.Duration
}

var _ ragchat.VectorStore = (*RedisStore)(nil)

// RedisOptions configuration for the Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "ragchat:"
	TTL      time.Duration // Expiration for documents, default 0 (no expiration)
}

// NewRedisStore creates a new Redis vector store
func NewRedisStore(opts RedisOptions, embedder ragchat.Embedder) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "ragchat:"
	}

	return &RedisStore{
		client:   client,
		embedder: embedder,
		prefix:   prefix,
		ttl:      opts.TTL,
	}
}

func (s *RedisStore) docKey(id string) string {
	return fmt.Sprintf("%sdoc:%s", s.prefix, id)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "docs"
}

func (s *RedisStore) updatedKey() string {
	return s.prefix + "updated"
}

// Add stores documents, replacing any existing document with the same ID.
func (s *RedisStore) Add(ctx context.Context, docs []ragchat.Document) error {
	embeddings, err := store.EmbedAll(ctx, s.embedder, docs)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	for i, doc := range docs {
		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", doc.ID, err)
		}

		key := s.docKey(doc.ID)
		pipe.HSet(ctx, key, map[string]any{
			"content":    doc.Content,
			"metadata":   metadataJSON,
			"embedding":  store.EncodeVector(embeddings[i]),
			"created_at": doc.CreatedAt.Format(time.RFC3339Nano),
		})
		pipe.SAdd(ctx, s.indexKey(), doc.ID)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}
	pipe.Set(ctx, s.updatedKey(), time.Now().Format(time.RFC3339Nano), 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save documents to redis: %w", err)
	}
	return nil
}

// Search returns the k documents most similar to the query.
func (s *RedisStore) Search(ctx context.Context, query string, k int) ([]ragchat.SearchResult, error) {
	return s.SearchWithFilter(ctx, query, k, nil)
}

// SearchWithFilter returns the k most similar documents whose metadata
// matches every filter entry. Documents whose hash has expired are skipped.
func (s *RedisStore) SearchWithFilter(ctx context.Context, query string, k int, filter map[string]any) ([]ragchat.SearchResult, error) {
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

	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list document ids: %w", err)
	}
	if len(ids) == 0 {
		return []ragchat.SearchResult{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.docKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to fetch documents: %w", err)
	}

	var results []ragchat.SearchResult
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}

		doc, embedding, err := decodeDocument(ids[i], fields)
		if err != nil {
			return nil, err
		}
		if !store.MatchesFilter(doc.Metadata, filter) {
			continue
		}

		results = append(results, ragchat.SearchResult{
			Document: doc,
			Score:    store.CosineSimilarity(queryEmbedding, embedding),
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

// Delete removes the documents with the given IDs.
func (s *RedisStore) Delete(ctx context.Context, ids []string) error {
	pipe := s.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.docKey(id))
		pipe.SRem(ctx, s.indexKey(), id)
	}
	pipe.Set(ctx, s.updatedKey(), time.Now().Format(time.RFC3339Nano), 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// Stats reports the store's current size and embedding dimension.
func (s *RedisStore) Stats(ctx context.Context) (ragchat.StoreStats, error) {
	var stats ragchat.StoreStats

	count, err := s.client.SCard(ctx, s.indexKey()).Result()
	if err != nil {
		return stats, fmt.Errorf("failed to count documents: %w", err)
	}
	stats.TotalDocuments = int(count)

	if updated, err := s.client.Get(ctx, s.updatedKey()).Result(); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
			stats.LastUpdated = ts
		}
	} else if err != redis.Nil {
		return stats, fmt.Errorf("failed to read update marker: %w", err)
	}

	if count > 0 {
		id, err := s.client.SRandMember(ctx, s.indexKey()).Result()
		if err != nil {
			return stats, fmt.Errorf("failed to sample document: %w", err)
		}
		raw, err := s.client.HGet(ctx, s.docKey(id), "embedding").Result()
		if err == nil {
			if vec, err := store.DecodeVector([]byte(raw)); err == nil {
				stats.Dimension = len(vec)
			}
		}
	}

	return stats, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeDocument(id string, fields map[string]string) (ragchat.Document, []float32, error) {
	doc := ragchat.Document{
		ID:      id,
		Content: fields["content"],
	}

	if raw := fields["metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &doc.Metadata); err != nil {
			return doc, nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", id, err)
		}
	}
	if raw := fields["created_at"]; raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			doc.CreatedAt = ts
		}
	}

	embedding, err := store.DecodeVector([]byte(fields["embedding"]))
	if err != nil {
		return doc, nil, fmt.Errorf("failed to decode embedding for %s: %w", id, err)
	}
	doc.Embedding = embedding

	return doc, embedding, nil
}
