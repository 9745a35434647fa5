package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/langdocs/ragchat"
	"github.com/langdocs/ragchat/log"
)

// IngestState flows through the ingestion graph.
type IngestState struct {
	Documents []ragchat.Document
	Chunks    []ragchat.Document
	Stats     IngestStats
}

// IngestStats summarizes one ingestion run.
type IngestStats struct {
	DocumentsLoaded int
	ChunksCreated   int
	ChunksStored    int

	LoadTime  time.Duration
	ChunkTime time.Duration
	EmbedTime time.Duration
	StoreTime time.Duration
	TotalTime time.Duration
}

// IngestPipeline loads documents, splits them into chunks, embeds the chunks
// and writes them to a vector store: load -> chunk -> embed -> store.
type IngestPipeline struct {
	loader   ragchat.Loader
	splitter ragchat.Splitter
	embedder ragchat.Embedder
	store    ragchat.VectorStore
	logger   log.Logger

	runnable *Runnable[IngestState]
}

// NewIngestPipeline wires and compiles the ingestion graph. The embedder may
// be nil when the store embeds documents itself.
func NewIngestPipeline(loader ragchat.Loader, splitter ragchat.Splitter, embedder ragchat.Embedder, store ragchat.VectorStore) (*IngestPipeline, error) {
	if loader == nil {
		return nil, fmt.Errorf("loader is required")
	}
	if splitter == nil {
		return nil, fmt.Errorf("splitter is required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}

	p := &IngestPipeline{
		loader:   loader,
		splitter: splitter,
		embedder: embedder,
		store:    store,
		logger:   log.GetDefaultLogger(),
	}

	g := NewGraph[IngestState]()
	g.AddNode("load", "Load documents from the source", p.loadNode)
	g.AddNode("chunk", "Split documents into chunks", p.chunkNode)
	g.AddNode("embed", "Embed chunks in batches", p.embedNode)
	g.AddNode("store", "Write chunks to the vector store", p.storeNode)

	g.SetEntryPoint("load")
	g.AddEdge("load", "chunk")
	g.AddEdge("chunk", "embed")
	g.AddEdge("embed", "store")
	g.AddEdge("store", End)

	runnable, err := g.Compile()
	if err != nil {
		return nil, err
	}
	p.runnable = runnable

	return p, nil
}

// SetLogger replaces the pipeline logger.
func (p *IngestPipeline) SetLogger(logger log.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// Run executes the ingestion graph and returns the run statistics.
func (p *IngestPipeline) Run(ctx context.Context) (IngestStats, error) {
	start := time.Now()

	state, err := p.runnable.Invoke(ctx, IngestState{})
	if err != nil {
		return IngestStats{}, err
	}

	state.Stats.TotalTime = time.Since(start)
	p.logger.Info("ingestion finished: %d documents, %d chunks stored in %s",
		state.Stats.DocumentsLoaded, state.Stats.ChunksStored, state.Stats.TotalTime.Round(time.Millisecond))

	return state.Stats, nil
}

func (p *IngestPipeline) loadNode(ctx context.Context, state IngestState) (IngestState, error) {
	start := time.Now()

	docs, err := p.loader.Load(ctx)
	if err != nil {
		return state, fmt.Errorf("document loading failed: %w", err)
	}

	state.Documents = docs
	state.Stats.DocumentsLoaded = len(docs)
	state.Stats.LoadTime = time.Since(start)
	p.logger.Info("loaded %d documents", len(docs))

	return state, nil
}

func (p *IngestPipeline) chunkNode(ctx context.Context, state IngestState) (IngestState, error) {
	start := time.Now()

	state.Chunks = p.splitter.SplitDocuments(state.Documents)
	state.Stats.ChunksCreated = len(state.Chunks)
	state.Stats.ChunkTime = time.Since(start)
	p.logger.Info("split %d documents into %d chunks", len(state.Documents), len(state.Chunks))

	return state, nil
}

// embedNode embeds chunks that arrived without a vector. With no embedder
// configured the chunks pass through unchanged and the store embeds them on
// write.
func (p *IngestPipeline) embedNode(ctx context.Context, state IngestState) (IngestState, error) {
	start := time.Now()

	if p.embedder == nil || len(state.Chunks) == 0 {
		return state, nil
	}

	var texts []string
	var missing []int
	for i, chunk := range state.Chunks {
		if len(chunk.Embedding) == 0 {
			texts = append(texts, chunk.Content)
			missing = append(missing, i)
		}
	}
	if len(texts) == 0 {
		return state, nil
	}

	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return state, fmt.Errorf("embedding failed: %w", err)
	}
	if len(vectors) != len(texts) {
		return state, fmt.Errorf("embedding returned %d vectors for %d chunks", len(vectors), len(texts))
	}

	for i, idx := range missing {
		state.Chunks[idx].Embedding = vectors[i]
	}
	state.Stats.EmbedTime = time.Since(start)
	p.logger.Info("embedded %d chunks", len(texts))

	return state, nil
}

func (p *IngestPipeline) storeNode(ctx context.Context, state IngestState) (IngestState, error) {
	start := time.Now()

	if err := p.store.Add(ctx, state.Chunks); err != nil {
		return state, fmt.Errorf("storing chunks failed: %w", err)
	}

	state.Stats.ChunksStored = len(state.Chunks)
	state.Stats.StoreTime = time.Since(start)

	return state, nil
}
