package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/langdocs/ragchat"
	"github.com/langdocs/ragchat/llm"
	"github.com/langdocs/ragchat/log"
)

// AnswerState flows through the answering graph.
type AnswerState struct {
	Question   string
	Results    []ragchat.SearchResult
	Context    string
	Answer     string
	Sources    []string
	Confidence float32

	stream func(chunk []byte)
}

// Answer is the result of answering one question. Context is the assembled
// source text the answer was generated from, empty when nothing was retrieved.
type Answer struct {
	Question   string
	Answer     string
	Context    string
	Sources    []string
	Confidence float32
	Elapsed    time.Duration
}

// AnswerPipeline answers documentation questions:
// retrieve -> (generate | no_context) -> finalize.
type AnswerPipeline struct {
	retriever    ragchat.Retriever
	model        llms.Model
	systemPrompt string
	logger       log.Logger

	runnable *Runnable[AnswerState]
}

// NewAnswerPipeline wires and compiles the answering graph.
func NewAnswerPipeline(retriever ragchat.Retriever, model llms.Model) (*AnswerPipeline, error) {
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}

	p := &AnswerPipeline{
		retriever:    retriever,
		model:        model,
		systemPrompt: llm.SystemPrompt,
		logger:       log.GetDefaultLogger(),
	}

	g := NewGraph[AnswerState]()
	g.AddNode("retrieve", "Retrieve relevant documentation chunks", p.retrieveNode)
	g.AddNode("generate", "Generate an answer from the retrieved context", p.generateNode)
	g.AddNode("no_context", "Answer when nothing relevant was found", p.noContextNode)
	g.AddNode("finalize", "Collect source URLs and confidence", p.finalizeNode)

	g.SetEntryPoint("retrieve")
	g.AddConditionalEdge("retrieve", func(ctx context.Context, state AnswerState) string {
		if len(state.Results) == 0 {
			return "no_context"
		}
		return "generate"
	})
	g.AddEdge("generate", "finalize")
	g.AddEdge("no_context", "finalize")
	g.AddEdge("finalize", End)

	runnable, err := g.Compile()
	if err != nil {
		return nil, err
	}
	p.runnable = runnable

	return p, nil
}

// SetLogger replaces the pipeline logger.
func (p *AnswerPipeline) SetLogger(logger log.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// Ask answers a question from the indexed documentation.
func (p *AnswerPipeline) Ask(ctx context.Context, question string) (*Answer, error) {
	return p.ask(ctx, question, nil)
}

// AskStream answers a question, forwarding answer tokens to fn as they are
// generated. The returned Answer carries the complete text.
func (p *AnswerPipeline) AskStream(ctx context.Context, question string, fn func(chunk []byte)) (*Answer, error) {
	return p.ask(ctx, question, fn)
}

func (p *AnswerPipeline) ask(ctx context.Context, question string, fn func(chunk []byte)) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is empty")
	}

	start := time.Now()
	state, err := p.runnable.Invoke(ctx, AnswerState{Question: question, stream: fn})
	if err != nil {
		return nil, err
	}

	return &Answer{
		Question:   question,
		Answer:     state.Answer,
		Context:    state.Context,
		Sources:    state.Sources,
		Confidence: state.Confidence,
		Elapsed:    time.Since(start),
	}, nil
}

func (p *AnswerPipeline) retrieveNode(ctx context.Context, state AnswerState) (AnswerState, error) {
	results, err := p.retriever.Retrieve(ctx, state.Question)
	if err != nil {
		return state, fmt.Errorf("retrieval failed: %w", err)
	}

	state.Results = results
	p.logger.Debug("retrieved %d chunks for %q", len(results), state.Question)

	return state, nil
}

func (p *AnswerPipeline) generateNode(ctx context.Context, state AnswerState) (AnswerState, error) {
	var parts []string
	for i, result := range state.Results {
		parts = append(parts, fmt.Sprintf("[Source %d] %s\n%s", i+1, sourceURL(result.Document), result.Document.Content))
	}
	state.Context = strings.Join(parts, "\n\n")

	var (
		answer string
		err    error
	)
	if state.stream != nil {
		answer, err = llm.GenerateStream(ctx, p.model, p.systemPrompt, state.Question, state.Context, state.stream)
	} else {
		answer, err = llm.Generate(ctx, p.model, p.systemPrompt, state.Question, state.Context)
	}
	if err != nil {
		return state, err
	}

	state.Answer = answer
	return state, nil
}

// noContextNode answers with the fixed not-found message. Streaming callers
// still receive it as a single chunk.
func (p *AnswerPipeline) noContextNode(ctx context.Context, state AnswerState) (AnswerState, error) {
	state.Answer = llm.NoAnswerMessage
	if state.stream != nil {
		state.stream([]byte(state.Answer))
	}
	return state, nil
}

// finalizeNode collects source URLs in first-seen order, dropping duplicates,
// and sets the confidence to the mean retrieval score.
func (p *AnswerPipeline) finalizeNode(ctx context.Context, state AnswerState) (AnswerState, error) {
	if len(state.Results) == 0 {
		return state, nil
	}

	seen := make(map[string]bool)
	var total float32
	for _, result := range state.Results {
		total += result.Score
		url := sourceURL(result.Document)
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		state.Sources = append(state.Sources, url)
	}
	state.Confidence = total / float32(len(state.Results))

	return state, nil
}

// sourceURL extracts the page URL a chunk came from, falling back to the
// source path for filesystem documents.
func sourceURL(doc ragchat.Document) string {
	if s, ok := doc.Metadata["url"].(string); ok && s != "" {
		return s
	}
	if s, ok := doc.Metadata["source"]; ok {
		return fmt.Sprintf("%v", s)
	}
	return ""
}
