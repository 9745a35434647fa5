package ragchat

import (
	"context"
	"time"
)

// ChunkType classifies the kind of content a chunk carries.
type ChunkType string

const (
	// ChunkText is a prose chunk with no code content.
	ChunkText ChunkType = "text"
	// ChunkCode is a whole fenced code block kept intact.
	ChunkCode ChunkType = "code"
	// ChunkCodeFunction is a single function definition split out of a large block.
	ChunkCodeFunction ChunkType = "code_function"
	// ChunkCodeClass is a single class definition split out of a large block.
	ChunkCodeClass ChunkType = "code_class"
	// ChunkCodePartial is a fixed line-count slice of a large block that could
	// not be split at definition boundaries.
	ChunkCodePartial ChunkType = "code_partial"
)

// Document represents a document with content, metadata and an optional embedding.
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]any
	Embedding []float32
	CreatedAt time.Time
}

// Chunk is one unit of split document text, sized for embedding and retrieval.
// Metadata carries the parent document's keys plus the chunk-specific ones:
// section_title, section_level, chunk_type, has_code, and for code chunks
// language, functions, classes, function_name or class_name.
type Chunk struct {
	Content  string
	Metadata map[string]any
}

// Type returns the chunk's classification, defaulting to ChunkText.
func (c Chunk) Type() ChunkType {
	if t, ok := c.Metadata["chunk_type"].(string); ok {
		return ChunkType(t)
	}
	return ChunkText
}

// HasCode reports whether the chunk contains code content.
func (c Chunk) HasCode() bool {
	b, _ := c.Metadata["has_code"].(bool)
	return b
}

// SectionTitle returns the title of the Markdown section the chunk came from.
func (c Chunk) SectionTitle() string {
	s, _ := c.Metadata["section_title"].(string)
	return s
}

// SectionLevel returns the Markdown header depth of the chunk's section,
// 0 when the chunk precedes any header.
func (c Chunk) SectionLevel() int {
	n, _ := c.Metadata["section_level"].(int)
	return n
}

// Language returns the code language tag for code chunks, empty for prose.
func (c Chunk) Language() string {
	s, _ := c.Metadata["language"].(string)
	return s
}

// SearchResult pairs a document with its similarity score.
type SearchResult struct {
	Document Document
	Score    float32
}

// StoreStats describes the current contents of a vector store.
type StoreStats struct {
	TotalDocuments int
	Dimension      int
	LastUpdated    time.Time
}

// Loader loads documents from a source such as a website or the filesystem.
type Loader interface {
	Load(ctx context.Context) ([]Document, error)
}

// Splitter splits documents into smaller ones sized for embedding.
type Splitter interface {
	SplitDocuments(docs []Document) []Document
}

// Embedder generates embedding vectors for text.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorStore stores documents with embeddings and answers similarity queries.
type VectorStore interface {
	Add(ctx context.Context, docs []Document) error
	Search(ctx context.Context, query string, k int) ([]SearchResult, error)
	SearchWithFilter(ctx context.Context, query string, k int, filter map[string]any) ([]SearchResult, error)
	Delete(ctx context.Context, ids []string) error
	Stats(ctx context.Context) (StoreStats, error)
	Close() error
}

// Retriever retrieves the documents most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]SearchResult, error)
}
