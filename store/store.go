package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	ragchat "github.com/langdocs/ragchat"
)

// CosineSimilarity calculates cosine similarity between two vectors.
// Mismatched lengths and zero vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct float64
	var normA float64
	var normB float64

	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// EncodeVector packs a vector into little-endian float32 bytes for binary
// storage backends.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector unpacks a vector encoded by EncodeVector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vector data length %d is not a multiple of 4", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

// VectorLiteral renders a vector in the pgvector input format, e.g. "[1,2,3]".
func VectorLiteral(vec []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// EmbedAll returns one embedding per document, generating vectors for the
// documents that do not already carry one. A single batch call covers all
// missing embeddings.
func EmbedAll(ctx context.Context, embedder ragchat.Embedder, docs []ragchat.Document) ([][]float32, error) {
	embeddings := make([][]float32, len(docs))

	var missing []int
	var texts []string
	for i, doc := range docs {
		if len(doc.Embedding) > 0 {
			embeddings[i] = doc.Embedding
			continue
		}
		missing = append(missing, i)
		texts = append(texts, doc.Content)
	}

	if len(missing) == 0 {
		return embeddings, nil
	}
	if embedder == nil {
		return nil, fmt.Errorf("no embedder configured and %d documents have no embedding", len(missing))
	}

	generated, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(generated) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(generated), len(missing))
	}

	for j, i := range missing {
		embeddings[i] = generated[j]
	}
	return embeddings, nil
}

// MatchesFilter reports whether a metadata map satisfies every key/value
// pair in the filter.
func MatchesFilter(metadata, filter map[string]any) bool {
	for key, value := range filter {
		existing, ok := metadata[key]
		if !ok || existing != value {
			return false
		}
	}
	return true
}
