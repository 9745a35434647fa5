package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AnswerCache caches answers in Redis keyed by a hash of the question, so
// repeated questions skip retrieval and generation entirely.
type AnswerCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// CacheOptions configuration for the answer cache connection
type CacheOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "ragchat:"
	TTL      time.Duration // Expiration for cached answers, default 1h
}

// CachedAnswer is the stored form of one answer.
type CachedAnswer struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// NewAnswerCache creates a Redis-backed answer cache.
func NewAnswerCache(opts CacheOptions) *AnswerCache {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "ragchat:"
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &AnswerCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *AnswerCache) key(question string) string {
	sum := sha256.Sum256([]byte(question))
	return fmt.Sprintf("%sanswer:%s", c.prefix, hex.EncodeToString(sum[:]))
}

// Get returns the cached answer for a question, or nil on a miss.
func (c *AnswerCache) Get(ctx context.Context, question string) (*CachedAnswer, error) {
	data, err := c.client.Get(ctx, c.key(question)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached answer: %w", err)
	}

	var cached CachedAnswer
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, fmt.Errorf("failed to decode cached answer: %w", err)
	}
	return &cached, nil
}

// Set stores an answer for a question with the configured TTL.
func (c *AnswerCache) Set(ctx context.Context, question, answer string, sources []string) error {
	data, err := json.Marshal(CachedAnswer{Answer: answer, Sources: sources})
	if err != nil {
		return fmt.Errorf("failed to encode answer for cache: %w", err)
	}

	if err := c.client.Set(ctx, c.key(question), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache answer: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *AnswerCache) Close() error {
	return c.client.Close()
}
