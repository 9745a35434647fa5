// Package sqlite provides a SQLite-backed vector store.
//
// Documents live in a single table with JSON metadata and the embedding as a
// little-endian float32 blob. Search scans the table and scores cosine
// similarity in memory, so this backend suits single-node deployments with
// corpora that fit in a scan.
//
// # Basic Usage
//
//	import "github.com/langdocs/ragchat/store/sqlite"
//
//	vs, err := sqlite.NewSqliteStore(sqlite.SqliteOptions{
//		Path:      "./data/docs.db",
//		TableName: "documents", // Optional, this is the default
//	}, embedder)
//	if err != nil {
//		return err
//	}
//	defer vs.Close()
//
//	err = vs.Add(ctx, docs)
//	results, err := vs.Search(ctx, "how do agents call tools", 5)
//
// The schema is created on construction if it does not exist. The driver is
// mattn/go-sqlite3, which requires cgo.
package sqlite
