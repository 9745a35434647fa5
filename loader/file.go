package loader

import (
	"context"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"

	"github.com/langdocs/ragchat"
)

// FileLoader loads markdown and plain text files, either a single file or
// every matching file under a directory.
type FileLoader struct {
	path       string
	extensions map[string]bool
	metadata   map[string]any
}

var _ ragchat.Loader = (*FileLoader)(nil)

// FileLoaderOption configures the FileLoader.
type FileLoaderOption func(*FileLoader)

// WithExtensions replaces the file extensions picked up during a directory
// walk. Extensions include the leading dot.
func WithExtensions(exts ...string) FileLoaderOption {
	return func(l *FileLoader) {
		l.extensions = make(map[string]bool, len(exts))
		for _, ext := range exts {
			l.extensions[strings.ToLower(ext)] = true
		}
	}
}

// WithMetadata sets additional metadata attached to every loaded document.
func WithMetadata(metadata map[string]any) FileLoaderOption {
	return func(l *FileLoader) {
		maps.Copy(l.metadata, metadata)
	}
}

// NewFileLoader creates a loader for the given file or directory path.
func NewFileLoader(path string, opts ...FileLoaderOption) *FileLoader {
	l := &FileLoader{
		path:       path,
		extensions: map[string]bool{".md": true, ".txt": true},
		metadata:   make(map[string]any),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the configured path. Directories are walked recursively and
// every file with a matching extension becomes one Document.
func (l *FileLoader) Load(ctx context.Context) ([]ragchat.Document, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", l.path, err)
	}

	if !info.IsDir() {
		return l.loadFile(ctx, l.path)
	}

	var docs []ragchat.Document
	err = filepath.WalkDir(l.path, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !l.extensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		loaded, err := l.loadFile(ctx, path)
		if err != nil {
			return err
		}
		docs = append(docs, loaded...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", l.path, err)
	}
	return docs, nil
}

func (l *FileLoader) loadFile(ctx context.Context, path string) ([]ragchat.Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	loaded, err := documentloaders.NewText(file).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load file %s: %w", path, err)
	}

	docs := make([]ragchat.Document, 0, len(loaded))
	for _, doc := range loaded {
		metadata := make(map[string]any, len(l.metadata)+len(doc.Metadata)+3)
		maps.Copy(metadata, l.metadata)
		maps.Copy(metadata, doc.Metadata)
		metadata["source"] = path
		metadata["type"] = "file"
		metadata["title"] = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

		docs = append(docs, ragchat.Document{
			ID:       ragchat.DocumentID(path, doc.PageContent),
			Content:  doc.PageContent,
			Metadata: metadata,
		})
	}
	return docs, nil
}
