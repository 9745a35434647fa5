// Package redis provides a Redis-backed vector store.
//
// Documents are stored one hash per document under "<prefix>doc:<id>" with
// content, JSON metadata, the embedding as little-endian float32 bytes, and
// the creation timestamp. A set at "<prefix>docs" indexes the IDs. Search
// fetches all hashes through a pipeline and scores cosine similarity client
// side, so this backend suits corpora up to a few tens of thousands of
// chunks shared between processes.
//
// # Basic Usage
//
//	import "github.com/langdocs/ragchat/store/redis"
//
//	vs := redis.NewRedisStore(redis.RedisOptions{
//		Addr:     "localhost:6379",
//		Password: "",
//		DB:       0,
//		Prefix:   "ragchat:",      // Optional key prefix
//		TTL:      24 * time.Hour,  // Optional expiry per document
//	}, embedder)
//	defer vs.Close()
//
//	err := vs.Add(ctx, docs)
//	results, err := vs.Search(ctx, "how do agents call tools", 5)
//
// # TTL
//
// With a TTL set, each document hash expires independently. Expired
// documents are skipped during search; their IDs stay in the index set
// until deleted, so Stats may briefly overcount after expiry.
package redis
