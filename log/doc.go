// Package log provides the leveled logging interface used across ragchat.
//
// Components accept the Logger interface so callers can plug in the
// stdlib-backed DefaultLogger, the golog-backed GologLogger for colored
// server output, or NoOpLogger in tests:
//
//	logger := log.NewGolog(log.LevelDebug)
//	splitter := splitter.NewStructuredSplitter(splitter.WithLogger(logger))
//
// A package-level default logger backs the top-level Debug/Info/Warn/Error
// helpers for code paths that have no injected logger.
package log
