// Package loader collects source documents for ingestion.
//
// DocsLoader crawls a documentation site page by page; FileLoader reads
// local markdown and text files. Both produce ragchat.Document values with
// source metadata the rest of the pipeline relies on.
package loader
