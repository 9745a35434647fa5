// Package llm wires the chat model and the embedding providers.
//
// NewChatModel builds a langchaingo model for answer generation; Generate
// and GenerateStream wrap it with the documentation-expert prompt. Two
// ragchat.Embedder implementations are provided: OpenAIEmbedder calls the
// embeddings API directly with retries, and LangChainEmbedder adapts any
// langchaingo embedder.
package llm
