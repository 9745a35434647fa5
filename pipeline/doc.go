// Package pipeline runs the ingestion and answering flows as small state
// graphs.
//
// # Graph
//
// Graph[S] is a sequential state graph: named stages connected by static or
// conditional edges, compiled into a Runnable that threads a typed state
// value from the entry point to the End sentinel.
//
// # Pipelines
//
// IngestPipeline builds the document index:
//
//	load -> chunk -> embed -> store
//
// AnswerPipeline answers a question from the index, routing to a fixed
// not-found reply when retrieval comes back empty:
//
//	retrieve -> (generate | no_context) -> finalize
//
// Usage:
//
//	ingest, _ := pipeline.NewIngestPipeline(loader, splitter, embedder, store)
//	stats, err := ingest.Run(ctx)
//
//	answer, _ := pipeline.NewAnswerPipeline(retriever, model)
//	result, err := answer.Ask(ctx, "What is LCEL?")
package pipeline
