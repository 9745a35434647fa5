// Package ragchat implements a retrieval-augmented-generation chatbot over
// the LangChain documentation: crawl pages, chunk them while preserving
// fenced code blocks and Markdown structure, embed and store the chunks in a
// vector store, retrieve relevant chunks per question, and generate grounded
// answers through an LLM, exposed as an HTTP API with a small chat UI.
//
// The root package defines the shared data model (Document, Chunk) and the
// collaborator interfaces (Loader, Splitter, Embedder, VectorStore,
// Retriever) that the subpackages implement:
//
//   - splitter: structure-preserving chunker and the recursive prose splitter
//   - loader: documentation crawler and filesystem loader
//   - store: memory, Redis, SQLite and Postgres vector stores
//   - llm: chat model construction, generation helpers and embedding clients
//   - retriever: similarity retrieval with optional MMR re-ranking
//   - pipeline: ingestion and answer pipelines over a small stage graph
//   - server: the HTTP API (/api/ask, /api/ask/stream, /api/health)
//   - eval: LLM-judged answer quality evaluation
//
// # Quick Start
//
//	cfg := ragchat.LoadConfig()
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
//	embedder, _ := llm.NewOpenAIEmbedder(cfg.APIKey, cfg.EmbeddingModel, cfg.BaseURL)
//	vs := memory.NewMemoryStore(embedder)
//
//	docs := loader.NewDocsLoader(cfg.DocsBaseURL, loader.WithMaxPages(cfg.MaxPages))
//	chunks := splitter.NewStructuredSplitter(splitter.WithChunkSize(cfg.ChunkSize))
//	ingest, _ := pipeline.NewIngestPipeline(docs, chunks, embedder, vs)
//	stats, _ := ingest.Run(ctx)
//
//	model, _ := llm.NewChatModel(cfg)
//	ret := retriever.NewVectorRetriever(vs, retriever.Config{K: cfg.TopK})
//	answer, _ := pipeline.NewAnswerPipeline(ret, model)
//	result, _ := answer.Ask(ctx, "What is a LangChain retriever?")
package ragchat
