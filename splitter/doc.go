// Package splitter turns documents into embedding-sized chunks.
//
// StructuredSplitter is the chunker used for ingestion: it keeps fenced code
// blocks atomic, respects markdown section boundaries, and tags every chunk
// with section and code metadata. RecursiveSplitter is the plain prose
// splitter behind it, usable on its own for unstructured text.
package splitter
