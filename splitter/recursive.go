package splitter

import (
	"fmt"
	"strings"

	"github.com/langdocs/ragchat"
)

const (
	// DefaultChunkSize is the target chunk length in characters.
	DefaultChunkSize = 1500
	// DefaultChunkOverlap is how many characters adjacent chunks share.
	DefaultChunkOverlap = 200
)

// DefaultSeparators are tried from coarsest to finest: paragraph break, line
// break, sentence end, single space, and finally a hard character cut.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// RecursiveSplitter splits prose into size-bounded chunks by recursively
// trying a list of separators. Adjacent chunks share up to chunkOverlap
// characters: the tail of one chunk is carried over as the head of the next.
type RecursiveSplitter struct {
	separators   []string
	chunkSize    int
	chunkOverlap int
	lengthFunc   func(string) int
}

var _ ragchat.Splitter = (*RecursiveSplitter)(nil)

// RecursiveOption configures a RecursiveSplitter.
type RecursiveOption func(*RecursiveSplitter)

// WithRecursiveChunkSize sets the maximum chunk length in characters.
func WithRecursiveChunkSize(size int) RecursiveOption {
	return func(s *RecursiveSplitter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithRecursiveChunkOverlap sets how many characters adjacent chunks share.
func WithRecursiveChunkOverlap(overlap int) RecursiveOption {
	return func(s *RecursiveSplitter) {
		if overlap >= 0 {
			s.chunkOverlap = overlap
		}
	}
}

// WithRecursiveSeparators replaces the separator list. An empty string as the
// last entry means a hard character split when nothing coarser matches.
func WithRecursiveSeparators(separators []string) RecursiveOption {
	return func(s *RecursiveSplitter) {
		if len(separators) > 0 {
			s.separators = separators
		}
	}
}

// WithRecursiveLengthFunc replaces the length measure used for size checks.
func WithRecursiveLengthFunc(fn func(string) int) RecursiveOption {
	return func(s *RecursiveSplitter) {
		if fn != nil {
			s.lengthFunc = fn
		}
	}
}

// NewRecursiveSplitter creates a prose splitter with the default separators
// and chunk sizing.
func NewRecursiveSplitter(opts ...RecursiveOption) *RecursiveSplitter {
	s := &RecursiveSplitter{
		separators:   DefaultSeparators,
		chunkSize:    DefaultChunkSize,
		chunkOverlap: DefaultChunkOverlap,
		lengthFunc:   func(text string) int { return len(text) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SplitText splits text into chunks no longer than the configured chunk size.
// A segment that no separator can break is cut at fixed character offsets.
func (s *RecursiveSplitter) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if s.lengthFunc(text) <= s.chunkSize {
		return []string{text}
	}
	return s.splitRecursive(text, s.separators)
}

// SplitDocuments splits each document's content and fans the results out as
// child documents carrying chunk_index, chunk_total and parent_id metadata.
func (s *RecursiveSplitter) SplitDocuments(docs []ragchat.Document) []ragchat.Document {
	var out []ragchat.Document
	for _, doc := range docs {
		pieces := s.SplitText(doc.Content)
		for i, piece := range pieces {
			metadata := make(map[string]any, len(doc.Metadata)+3)
			for k, v := range doc.Metadata {
				metadata[k] = v
			}
			metadata["chunk_index"] = i
			metadata["chunk_total"] = len(pieces)
			metadata["parent_id"] = doc.ID
			out = append(out, ragchat.Document{
				ID:        fmt.Sprintf("%s_chunk_%d", doc.ID, i),
				Content:   piece,
				Metadata:  metadata,
				CreatedAt: doc.CreatedAt,
			})
		}
	}
	return out
}

func (s *RecursiveSplitter) splitRecursive(text string, separators []string) []string {
	if len(separators) == 0 || separators[0] == "" {
		return s.splitByCharacter(text)
	}
	sep := separators[0]
	rest := separators[1:]

	var chunks []string
	var pending []string
	for _, piece := range splitKeepingSeparator(text, sep) {
		if s.lengthFunc(piece) <= s.chunkSize {
			pending = append(pending, piece)
			continue
		}
		// the piece is too big for this separator, flush what fits and
		// break the piece down with the finer ones
		if len(pending) > 0 {
			chunks = append(chunks, s.mergePieces(pending)...)
			pending = nil
		}
		chunks = append(chunks, s.splitRecursive(piece, rest)...)
	}
	if len(pending) > 0 {
		chunks = append(chunks, s.mergePieces(pending)...)
	}
	return chunks
}

// mergePieces greedily packs consecutive pieces into chunks up to chunkSize,
// retaining up to chunkOverlap trailing characters of each emitted chunk as
// the start of the next one.
func (s *RecursiveSplitter) mergePieces(pieces []string) []string {
	var chunks []string
	var window []string
	total := 0
	for _, piece := range pieces {
		length := s.lengthFunc(piece)
		if total+length > s.chunkSize && len(window) > 0 {
			if chunk := strings.TrimSpace(strings.Join(window, "")); chunk != "" {
				chunks = append(chunks, chunk)
			}
			for len(window) > 0 && (total > s.chunkOverlap || total+length > s.chunkSize) {
				total -= s.lengthFunc(window[0])
				window = window[1:]
			}
		}
		window = append(window, piece)
		total += length
	}
	if chunk := strings.TrimSpace(strings.Join(window, "")); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// splitByCharacter cuts text at fixed offsets, stepping by chunkSize minus
// chunkOverlap so consecutive cuts share their boundary characters.
func (s *RecursiveSplitter) splitByCharacter(text string) []string {
	if len(text) <= s.chunkSize {
		return []string{text}
	}
	step := s.chunkSize - s.chunkOverlap
	if step <= 0 {
		step = s.chunkSize
	}
	var chunks []string
	for start := 0; start < len(text); start += step {
		end := start + s.chunkSize
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}
		chunks = append(chunks, text[start:end])
	}
	return chunks
}

// splitKeepingSeparator splits text on sep keeping each separator attached to
// the piece it terminates, so merged chunks reproduce the original text.
func splitKeepingSeparator(text, sep string) []string {
	var pieces []string
	for _, part := range strings.SplitAfter(text, sep) {
		if part != "" {
			pieces = append(pieces, part)
		}
	}
	return pieces
}
