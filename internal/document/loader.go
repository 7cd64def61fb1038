// Package document reads supported source files into plain text for
// ingestion. It handles format parsing only; chunking and embedding live in
// their own packages.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/Leptons1618/nexa/internal/log"
)

// ErrUnsupportedFormat indicates a file extension the loader cannot parse.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// supportedExtensions are the file types the loader can read.
var supportedExtensions = map[string]bool{
	".md":  true,
	".txt": true,
	".pdf": true,
}

// Document is a loaded source file: its path and extracted plain text.
type Document struct {
	Path string
	Text string
}

// Loader reads supported files and directories into plain text.
type Loader struct {
	logger log.Logger
}

// NewLoader creates a document loader. A nil logger falls back to a no-op.
func NewLoader(logger log.Logger) *Loader {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Loader{logger: logger.With("component", "loader")}
}

// Supported reports whether the loader can parse the given path's extension.
func Supported(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// Load reads a single file into plain text.
// Unrecognized extensions fail with ErrUnsupportedFormat.
func (l *Loader) Load(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".md", ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		return string(data), nil
	case ".pdf":
		return loadPDF(path)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// Gather expands paths into loaded documents. Files are loaded directly;
// directories are walked recursively and only supported files are included,
// in lexicographic order so repeated ingests see documents in the same order.
// Nonexistent paths are skipped with a warning.
func (l *Loader) Gather(paths []string) ([]Document, error) {
	var docs []Document
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			l.logger.Warn("path does not exist, skipping", "path", p)
			continue
		}

		if !info.IsDir() {
			text, err := l.Load(p)
			if err != nil {
				return nil, err
			}
			docs = append(docs, Document{Path: p, Text: text})
			continue
		}

		// filepath.WalkDir visits entries in lexical order, which gives the
		// stable document order ingestion relies on.
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !Supported(path) {
				return nil
			}
			text, loadErr := l.Load(path)
			if loadErr != nil {
				return loadErr
			}
			docs = append(docs, Document{Path: path, Text: text})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", p, err)
		}
	}
	return docs, nil
}

// loadPDF extracts plain text from a PDF, concatenating all pages.
func loadPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting text from %s: %w", path, err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("reading pdf text from %s: %w", path, err)
	}
	return buf.String(), nil
}
