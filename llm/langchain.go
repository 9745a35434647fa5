package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	ragchat "github.com/langdocs/ragchat"
)

const (
	// DefaultTemperature keeps answers grounded in the retrieved context.
	DefaultTemperature = 0.05
	// DefaultMaxTokens bounds a single generated answer.
	DefaultMaxTokens = 2000
)

// NoAnswerMessage is the fixed reply when the documentation does not cover
// the question.
const NoAnswerMessage = "I could not find this in the official documentation."

// SystemPrompt instructs the model to answer strictly from the retrieved
// context.
const SystemPrompt = `You are a LangChain documentation expert. Answer the user's question in detail using only the provided context.

Rules:
1. Base the answer strictly on the context. Never add information the context does not contain.
2. If the context does not answer the question, reply exactly: "` + NoAnswerMessage + `"
3. Include fenced code examples when the question concerns function signatures or implementation.
4. Do not list source URLs in the answer; they are reported separately.`

// NewChatModel creates a langchaingo chat model from the configuration.
// BaseURL switches the client to an OpenAI-compatible provider.
func NewChatModel(cfg ragchat.Config) (llms.Model, error) {
	opts := []openai.Option{openai.WithToken(cfg.APIKey)}
	if cfg.ChatModel != "" {
		opts = append(opts, openai.WithModel(cfg.ChatModel))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return model, nil
}

// Generate produces an answer for the question grounded in contextText.
func Generate(ctx context.Context, model llms.Model, systemPrompt, question, contextText string) (string, error) {
	response, err := model.GenerateContent(ctx, buildMessages(systemPrompt, question, contextText),
		llms.WithTemperature(DefaultTemperature),
		llms.WithMaxTokens(DefaultMaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return response.Choices[0].Content, nil
}

// GenerateStream produces an answer like Generate while forwarding each
// generated chunk to fn as it arrives. The full answer is returned once the
// stream completes.
func GenerateStream(ctx context.Context, model llms.Model, systemPrompt, question, contextText string, fn func(chunk []byte)) (string, error) {
	var sb strings.Builder

	response, err := model.GenerateContent(ctx, buildMessages(systemPrompt, question, contextText),
		llms.WithTemperature(DefaultTemperature),
		llms.WithMaxTokens(DefaultMaxTokens),
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			sb.Write(chunk)
			fn(chunk)
			return nil
		}),
	)
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}

	if len(response.Choices) > 0 && response.Choices[0].Content != "" {
		return response.Choices[0].Content, nil
	}
	return sb.String(), nil
}

func buildMessages(systemPrompt, question, contextText string) []llms.MessageContent {
	prompt := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextText, question)
	return []llms.MessageContent{
		llms.TextParts("system", systemPrompt),
		llms.TextParts("human", prompt),
	}
}

// LangChainEmbedder adapts a langchaingo embedder to the ragchat.Embedder
// interface.
type LangChainEmbedder struct {
	embedder embeddings.Embedder
}

var _ ragchat.Embedder = (*LangChainEmbedder)(nil)

// NewLangChainEmbedder wraps a langchaingo embedder.
func NewLangChainEmbedder(embedder embeddings.Embedder) *LangChainEmbedder {
	return &LangChainEmbedder{embedder: embedder}
}

// EmbedDocuments generates embeddings for a batch of texts.
func (e *LangChainEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (e *LangChainEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return vector, nil
}
