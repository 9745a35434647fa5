package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type embeddingResponse struct {
	Data []embeddingData `json:"data"`
}

// newEmbeddingServer returns a fake embeddings endpoint that answers each
// input with a one-dimensional vector holding its position in the request.
// Responses are shuffled so callers must order results by index.
func newEmbeddingServer(t *testing.T, requests *atomic.Int32, failures int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		if int(n) <= failures {
			http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusInternalServerError)
			return
		}

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := embeddingResponse{}
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, embeddingData{
				Index:     i,
				Embedding: []float32{float32(i)},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestNewOpenAIEmbedder_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIEmbedder("", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is required")
}

func TestOpenAIEmbedder_EmbedDocuments(t *testing.T) {
	var requests atomic.Int32
	server := newEmbeddingServer(t, &requests, 0)
	defer server.Close()

	embedder, err := NewOpenAIEmbedder("test-key", "", server.URL+"/v1")
	require.NoError(t, err)

	vectors, err := embedder.EmbedDocuments(context.Background(), []string{"agents", "memory", "tools"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{0}, vectors[0])
	assert.Equal(t, []float32{1}, vectors[1])
	assert.Equal(t, []float32{2}, vectors[2])
	assert.Equal(t, int32(1), requests.Load())
}

func TestOpenAIEmbedder_EmbedDocumentsBatches(t *testing.T) {
	var requests atomic.Int32
	server := newEmbeddingServer(t, &requests, 0)
	defer server.Close()

	embedder, err := NewOpenAIEmbedder("test-key", "", server.URL+"/v1")
	require.NoError(t, err)

	texts := make([]string, embedBatchSize+5)
	for i := range texts {
		texts[i] = "chunk"
	}

	vectors, err := embedder.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, embedBatchSize+5)
	assert.Equal(t, int32(2), requests.Load())

	// Positions restart per batch.
	assert.Equal(t, []float32{0}, vectors[0])
	assert.Equal(t, []float32{float32(embedBatchSize - 1)}, vectors[embedBatchSize-1])
	assert.Equal(t, []float32{0}, vectors[embedBatchSize])
	assert.Equal(t, []float32{4}, vectors[embedBatchSize+4])
}

func TestOpenAIEmbedder_EmbedDocumentsEmpty(t *testing.T) {
	var requests atomic.Int32
	server := newEmbeddingServer(t, &requests, 0)
	defer server.Close()

	embedder, err := NewOpenAIEmbedder("test-key", "", server.URL+"/v1")
	require.NoError(t, err)

	vectors, err := embedder.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Equal(t, int32(0), requests.Load())
}

func TestOpenAIEmbedder_EmbedQuery(t *testing.T) {
	var requests atomic.Int32
	server := newEmbeddingServer(t, &requests, 0)
	defer server.Close()

	embedder, err := NewOpenAIEmbedder("test-key", "", server.URL+"/v1")
	require.NoError(t, err)

	vector, err := embedder.EmbedQuery(context.Background(), "how do agents use tools")
	require.NoError(t, err)
	assert.Equal(t, []float32{0}, vector)
}

func TestOpenAIEmbedder_RetriesTransientFailure(t *testing.T) {
	var requests atomic.Int32
	server := newEmbeddingServer(t, &requests, 1)
	defer server.Close()

	embedder, err := NewOpenAIEmbedder("test-key", "", server.URL+"/v1",
		WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	vectors, err := embedder.EmbedDocuments(context.Background(), []string{"agents"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, int32(2), requests.Load())
}

func TestOpenAIEmbedder_ExhaustsRetries(t *testing.T) {
	var requests atomic.Int32
	server := newEmbeddingServer(t, &requests, 100)
	defer server.Close()

	embedder, err := NewOpenAIEmbedder("test-key", "", server.URL+"/v1",
		WithMaxRetries(1), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	_, err = embedder.EmbedDocuments(context.Background(), []string{"agents"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, int32(2), requests.Load())
}

func TestRetryBackoff(t *testing.T) {
	assert.Equal(t, time.Duration(0), retryBackoff(2*time.Second, 0))

	for attempt := 1; attempt <= 4; attempt++ {
		base := 2 * time.Second << (attempt - 1)
		got := retryBackoff(2*time.Second, attempt)
		assert.GreaterOrEqual(t, got, base*3/4, "attempt %d", attempt)
		assert.LessOrEqual(t, got, base*5/4, "attempt %d", attempt)
	}

	// Large attempts are capped before jitter is applied.
	got := retryBackoff(2*time.Second, 20)
	assert.LessOrEqual(t, got, 30*time.Second*5/4)
}
