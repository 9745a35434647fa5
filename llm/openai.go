package llm

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	ragchat "github.com/langdocs/ragchat"
)

const (
	// DefaultEmbeddingModel produces 1536-dimensional vectors.
	DefaultEmbeddingModel = string(openai.SmallEmbedding3)

	embedBatchSize    = 100
	embedCallTimeout  = 30 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = 2 * time.Second
)

// OpenAIEmbedder generates embeddings through the OpenAI embeddings API, or
// any OpenAI-compatible provider when a base URL is set. Requests are
// retried with exponential backoff.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	maxRetries int
	retryDelay time.Duration
}

var _ ragchat.Embedder = (*OpenAIEmbedder)(nil)

// OpenAIEmbedderOption configures an OpenAIEmbedder.
type OpenAIEmbedderOption func(*OpenAIEmbedder)

// WithMaxRetries sets how many times a failed API call is retried.
func WithMaxRetries(n int) OpenAIEmbedderOption {
	return func(e *OpenAIEmbedder) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithRetryDelay sets the base delay for exponential backoff between retries.
func WithRetryDelay(d time.Duration) OpenAIEmbedderOption {
	return func(e *OpenAIEmbedder) {
		if d > 0 {
			e.retryDelay = d
		}
	}
}

// NewOpenAIEmbedder creates an embedder for the given model. baseURL is
// optional and switches the client to an OpenAI-compatible provider.
func NewOpenAIEmbedder(apiKey, model, baseURL string, opts ...OpenAIEmbedderOption) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	config.HTTPClient = &http.Client{Timeout: embedCallTimeout}

	e := &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(config),
		model:      openai.EmbeddingModel(model),
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// EmbedDocuments generates embeddings for a batch of texts, one API request
// per batch of up to 100 inputs.
func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff(e.retryDelay, attempt)):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, embedCallTimeout)
		resp, err := e.client.CreateEmbeddings(callCtx, openai.EmbeddingRequestStrings{
			Input: texts,
			Model: e.model,
		})
		cancel()

		if err != nil {
			lastErr = fmt.Errorf("attempt %d: %w", attempt+1, err)
			continue
		}
		if len(resp.Data) != len(texts) {
			lastErr = fmt.Errorf("attempt %d: got %d embeddings for %d inputs", attempt+1, len(resp.Data), len(texts))
			continue
		}

		vectors := make([][]float32, len(texts))
		for _, item := range resp.Data {
			if item.Index < 0 || item.Index >= len(vectors) {
				return nil, fmt.Errorf("embedding index %d out of range", item.Index)
			}
			vectors[item.Index] = item.Embedding
		}
		return vectors, nil
	}

	return nil, fmt.Errorf("failed to generate embeddings after %d attempts: %w", e.maxRetries+1, lastErr)
}

// retryBackoff returns the exponential backoff delay for an attempt with
// jitter of up to 25% in either direction.
func retryBackoff(baseDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	backoff := baseDelay * time.Duration(1<<uint(attempt-1))
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(backoff)/2)) - backoff/4
	return backoff + jitter
}
