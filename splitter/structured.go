package splitter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/langdocs/ragchat"
	"github.com/langdocs/ragchat/log"
)

// DefaultCodeBlockMaxSize is the body size above which a fenced code block is
// split instead of kept whole.
const DefaultCodeBlockMaxSize = 3000

var (
	codeBlockRe   = regexp.MustCompile("(?s)```(\\w+)?\\n(.*?)```")
	placeholderRe = regexp.MustCompile(`__CODE_BLOCK_\d+__`)
	headerRe      = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
)

// codeBlock is one fenced block lifted out of the text during extraction.
type codeBlock struct {
	language  string
	raw       string // body between the fences
	fenced    string // the block exactly as it appeared, fences included
	functions []string
	classes   []string
}

// section is a run of lines between one markdown header and the next.
type section struct {
	level int
	title string
	lines []string
}

// StructuredSplitter chunks technical documents while keeping fenced code
// blocks intact. Blocks are lifted out behind placeholder tokens before any
// other processing, the remaining text is partitioned at markdown headers,
// each section is chunked with prose and code interleaved in document order,
// and the placeholders are resolved back to the original block text at the
// end. Oversized blocks are split at python definition boundaries when a
// cheap syntactic scan succeeds, and by fixed line counts otherwise.
//
// An instance holds configuration only. Every SplitText call keeps its own
// extraction state, so a shared splitter may chunk documents from many
// goroutines at once.
type StructuredSplitter struct {
	chunkSize          int
	chunkOverlap       int
	codeBlockMaxSize   int
	preserveCodeBlocks bool
	preserveFunctions  bool
	preserveMarkdown   bool
	logger             log.Logger
	prose              *RecursiveSplitter
}

var _ ragchat.Splitter = (*StructuredSplitter)(nil)

// Option configures a StructuredSplitter.
type Option func(*StructuredSplitter)

// WithChunkSize sets the prose chunk budget in characters.
func WithChunkSize(size int) Option {
	return func(s *StructuredSplitter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithChunkOverlap sets how many characters adjacent prose chunks share.
func WithChunkOverlap(overlap int) Option {
	return func(s *StructuredSplitter) {
		if overlap >= 0 {
			s.chunkOverlap = overlap
		}
	}
}

// WithCodeBlockMaxSize sets the size above which a code block is split
// instead of emitted as one chunk.
func WithCodeBlockMaxSize(size int) Option {
	return func(s *StructuredSplitter) {
		if size > 0 {
			s.codeBlockMaxSize = size
		}
	}
}

// WithPreserveCodeBlocks controls whether fenced blocks are lifted out and
// chunked as units. When false the whole document is treated as prose.
func WithPreserveCodeBlocks(preserve bool) Option {
	return func(s *StructuredSplitter) {
		s.preserveCodeBlocks = preserve
	}
}

// WithPreserveFunctions controls whether oversized python blocks are split at
// function and class boundaries. When false they are split by line count, and
// extraction skips the definition name scan.
func WithPreserveFunctions(preserve bool) Option {
	return func(s *StructuredSplitter) {
		s.preserveFunctions = preserve
	}
}

// WithPreserveMarkdownStructure controls whether ATX headers start new
// sections. When false the whole document is chunked as one section.
func WithPreserveMarkdownStructure(preserve bool) Option {
	return func(s *StructuredSplitter) {
		s.preserveMarkdown = preserve
	}
}

// WithLogger sets the logger used for recoverable chunking warnings.
func WithLogger(logger log.Logger) Option {
	return func(s *StructuredSplitter) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStructuredSplitter creates a chunker with a 1500/200 prose budget and a
// 3000 character code block ceiling.
func NewStructuredSplitter(opts ...Option) *StructuredSplitter {
	s := &StructuredSplitter{
		chunkSize:          DefaultChunkSize,
		chunkOverlap:       DefaultChunkOverlap,
		codeBlockMaxSize:   DefaultCodeBlockMaxSize,
		preserveCodeBlocks: true,
		preserveFunctions:  true,
		preserveMarkdown:   true,
		logger:             log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.prose = NewRecursiveSplitter(
		WithRecursiveChunkSize(s.chunkSize),
		WithRecursiveChunkOverlap(s.chunkOverlap),
	)
	return s
}

// SplitText chunks one document's text. Chunks come back in document order
// with prose and code interleaved as they appeared; an empty or whitespace
// document yields no chunks.
func (s *StructuredSplitter) SplitText(text string) []ragchat.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	working := text
	blocks := map[string]codeBlock{}
	if s.preserveCodeBlocks {
		working, blocks = s.extractCodeBlocks(text)
	}

	var chunks []ragchat.Chunk
	for _, sec := range s.parseSections(working) {
		chunks = append(chunks, s.chunkSection(sec, blocks)...)
	}
	return s.restoreCodeBlocks(chunks, blocks)
}

// SplitDocuments chunks every document and returns the chunks as child
// documents. Chunk metadata is layered over a copy of the parent metadata,
// original keys intact, plus chunk_index, chunk_total and parent_id.
func (s *StructuredSplitter) SplitDocuments(docs []ragchat.Document) []ragchat.Document {
	var out []ragchat.Document
	for _, doc := range docs {
		chunks := s.SplitText(doc.Content)
		for i, chunk := range chunks {
			metadata := make(map[string]any, len(doc.Metadata)+len(chunk.Metadata)+3)
			for k, v := range doc.Metadata {
				metadata[k] = v
			}
			for k, v := range chunk.Metadata {
				metadata[k] = v
			}
			metadata["chunk_index"] = i
			metadata["chunk_total"] = len(chunks)
			metadata["parent_id"] = doc.ID
			out = append(out, ragchat.Document{
				ID:        fmt.Sprintf("%s_chunk_%d", doc.ID, i),
				Content:   chunk.Content,
				Metadata:  metadata,
				CreatedAt: doc.CreatedAt,
			})
		}
	}
	return out
}

// extractCodeBlocks replaces each fenced block with a placeholder token and
// records the original so restoreCodeBlocks can put it back verbatim. The
// placeholder counter is local to the call. An unterminated fence never
// matches and stays behind as plain text for the prose splitter.
func (s *StructuredSplitter) extractCodeBlocks(text string) (string, map[string]codeBlock) {
	blocks := make(map[string]codeBlock)
	counter := 0

	working := codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		sub := codeBlockRe.FindStringSubmatch(match)
		language := sub[1]
		if language == "" {
			language = "plain"
		}

		block := codeBlock{language: language, raw: sub[2], fenced: match}
		if s.preserveFunctions && language == "python" {
			block.functions = extractFunctionNames(block.raw)
			block.classes = extractClassNames(block.raw)
		}

		id := fmt.Sprintf("__CODE_BLOCK_%d__", counter)
		counter++
		blocks[id] = block
		return id
	})
	return working, blocks
}

// parseSections partitions placeholder text at ATX header lines. The header
// line itself stays in its section's content. Text before the first header
// forms a level 0 "Introduction" section; a document with no headers at all
// becomes a single level 0 "Content" section.
func (s *StructuredSplitter) parseSections(text string) []section {
	var sections []section
	current := section{level: 0, title: "Introduction"}
	sawHeader := false

	for _, line := range strings.Split(text, "\n") {
		if s.preserveMarkdown {
			if m := headerRe.FindStringSubmatch(line); m != nil {
				sawHeader = true
				if len(current.lines) > 0 {
					sections = append(sections, current)
				}
				current = section{level: len(m[1]), title: m[2], lines: []string{line}}
				continue
			}
		}
		current.lines = append(current.lines, line)
	}
	if len(current.lines) > 0 {
		sections = append(sections, current)
	}

	if !sawHeader {
		for i := range sections {
			sections[i].title = "Content"
		}
	}
	return sections
}

// chunkSection converts one section into chunks, flushing accumulated prose
// through the recursive splitter whenever a code placeholder interrupts it.
// Small blocks become a single code chunk holding their placeholder; blocks
// over codeBlockMaxSize go through splitLargeCodeBlock.
func (s *StructuredSplitter) chunkSection(sec section, blocks map[string]codeBlock) []ragchat.Chunk {
	text := strings.Join(sec.lines, "\n")

	var chunks []ragchat.Chunk
	var prose []string

	flush := func() {
		buffered := strings.TrimSpace(strings.Join(prose, "\n"))
		prose = prose[:0]
		if buffered == "" {
			return
		}
		for _, piece := range s.prose.SplitText(buffered) {
			chunks = append(chunks, ragchat.Chunk{
				Content: piece,
				Metadata: map[string]any{
					"section_title": sec.title,
					"section_level": sec.level,
					"chunk_type":    string(ragchat.ChunkText),
					"has_code":      false,
				},
			})
		}
	}

	last := 0
	for _, loc := range placeholderRe.FindAllStringIndex(text, -1) {
		leading := text[last:loc[0]]
		id := text[loc[0]:loc[1]]
		last = loc[1]

		if strings.TrimSpace(leading) != "" {
			prose = append(prose, leading)
		}

		block, ok := blocks[id]
		if !ok {
			// a token this pass never minted; treat it as prose and let
			// restoration blank it out
			prose = append(prose, id)
			continue
		}
		flush()

		if len(block.raw) > s.codeBlockMaxSize {
			chunks = append(chunks, s.splitLargeCodeBlock(block, sec)...)
			continue
		}
		chunks = append(chunks, ragchat.Chunk{
			Content: id,
			Metadata: map[string]any{
				"section_title": sec.title,
				"section_level": sec.level,
				"chunk_type":    string(ragchat.ChunkCode),
				"language":      block.language,
				"has_code":      true,
				"functions":     block.functions,
				"classes":       block.classes,
			},
		})
	}
	if trailing := text[last:]; strings.TrimSpace(trailing) != "" {
		prose = append(prose, trailing)
	}
	flush()

	return chunks
}

// splitLargeCodeBlock breaks an oversized block into one chunk per top-level
// python definition when the scan succeeds, and fixed line-count groups
// otherwise. Every piece is re-wrapped in fences so downstream consumers
// still see a valid block.
func (s *StructuredSplitter) splitLargeCodeBlock(block codeBlock, sec section) []ragchat.Chunk {
	if block.language == "python" && s.preserveFunctions {
		defs, err := parsePythonDefinitions(block.raw)
		switch {
		case err != nil:
			s.logger.Warn("code block in section %q is not parseable python, splitting by line count: %v", sec.title, err)
		case len(defs) == 0:
			s.logger.Warn("code block in section %q has no top-level definitions, splitting by line count", sec.title)
		default:
			return s.definitionChunks(block, sec, defs)
		}
	}
	return s.lineCountChunks(block, sec)
}

// definitionChunks emits one chunk per top-level definition, content limited
// to exactly that definition's source lines.
func (s *StructuredSplitter) definitionChunks(block codeBlock, sec section, defs []pythonDefinition) []ragchat.Chunk {
	lines := strings.Split(block.raw, "\n")
	var chunks []ragchat.Chunk
	for _, def := range defs {
		metadata := map[string]any{
			"section_title": sec.title,
			"section_level": sec.level,
			"language":      block.language,
			"has_code":      true,
		}
		if def.isClass {
			metadata["chunk_type"] = string(ragchat.ChunkCodeClass)
			metadata["class_name"] = def.name
		} else {
			metadata["chunk_type"] = string(ragchat.ChunkCodeFunction)
			metadata["function_name"] = def.name
		}
		source := strings.Join(lines[def.start:def.end+1], "\n")
		chunks = append(chunks, ragchat.Chunk{
			Content:  fmt.Sprintf("```python\n%s\n```", source),
			Metadata: metadata,
		})
	}
	return chunks
}

// lineCountChunks divides a block into consecutive groups of
// max(10, chunkSize/40) lines. A group may split a statement; that is the
// accepted cost of staying language agnostic.
func (s *StructuredSplitter) lineCountChunks(block codeBlock, sec section) []ragchat.Chunk {
	lines := strings.Split(block.raw, "\n")
	groupSize := s.chunkSize / 40
	if groupSize < 10 {
		groupSize = 10
	}

	var chunks []ragchat.Chunk
	for start := 0; start < len(lines); start += groupSize {
		end := start + groupSize
		if end > len(lines) {
			end = len(lines)
		}
		chunks = append(chunks, ragchat.Chunk{
			Content: fmt.Sprintf("```%s\n%s\n```", block.language, strings.Join(lines[start:end], "\n")),
			Metadata: map[string]any{
				"section_title": sec.title,
				"section_level": sec.level,
				"chunk_type":    string(ragchat.ChunkCodePartial),
				"language":      block.language,
				"has_code":      true,
			},
		})
	}
	return chunks
}

// restoreCodeBlocks resolves every remaining placeholder token into the
// original fenced text. A token with no recorded block becomes the empty
// string so one malformed document cannot fail a whole ingestion batch.
func (s *StructuredSplitter) restoreCodeBlocks(chunks []ragchat.Chunk, blocks map[string]codeBlock) []ragchat.Chunk {
	restored := make([]ragchat.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		chunk.Content = placeholderRe.ReplaceAllStringFunc(chunk.Content, func(id string) string {
			block, ok := blocks[id]
			if !ok {
				s.logger.Warn("no code block recorded for placeholder %s, dropping it", id)
				return ""
			}
			return block.fenced
		})
		restored = append(restored, chunk)
	}
	return restored
}
