// Package ingest turns documents on disk into searchable vector records.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/Leptons1618/nexa/internal/chunker"
	"github.com/Leptons1618/nexa/internal/document"
	"github.com/Leptons1618/nexa/internal/embedding"
	"github.com/Leptons1618/nexa/internal/log"
	"github.com/Leptons1618/nexa/internal/vectorstore"
)

// Service coordinates loading, chunking, embedding and storage. Each Ingest
// call is independent; the only mutable state is the chunking window.
type Service struct {
	loader   *document.Loader
	embedder embedding.Embedder
	store    vectorstore.Store
	logger   log.Logger

	mu           sync.RWMutex
	chunkSize    int
	chunkOverlap int
}

// New builds an ingestion service.
func New(loader *document.Loader, embedder embedding.Embedder, store vectorstore.Store, chunkSize, chunkOverlap int, logger log.Logger) *Service {
	return &Service{
		loader:       loader,
		embedder:     embedder,
		store:        store,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		logger:       logger.With("component", "ingest"),
	}
}

// Chunking reports the current chunk size and overlap.
func (s *Service) Chunking() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunkSize, s.chunkOverlap
}

// SetChunking adjusts the chunking window at runtime. The combination is
// validated the same way Split validates it, so an accepted window never
// fails a later Ingest.
func (s *Service) SetChunking(size, overlap int) error {
	if size <= 0 || overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: size %d, overlap %d", chunker.ErrInvalidWindow, size, overlap)
	}
	s.mu.Lock()
	s.chunkSize = size
	s.chunkOverlap = overlap
	s.mu.Unlock()
	s.logger.Info("chunking settings updated", "chunk_size", size, "chunk_overlap", overlap)
	return nil
}

// Ingest loads every supported document under paths, chunks them, embeds all
// chunks in a single batch, adds them to the store in a single call, and
// persists. It returns the number of chunks written. Missing or unsupported
// paths are skipped; when nothing remains, the store is untouched and the
// count is zero.
//
// Tags and version are stamped onto every chunk produced by this call.
func (s *Service) Ingest(ctx context.Context, paths, tags []string, version string) (int, error) {
	docs, err := s.loader.Gather(paths)
	if err != nil {
		return 0, fmt.Errorf("gather documents: %w", err)
	}
	if len(docs) == 0 {
		s.logger.Warn("no supported documents found", "paths", paths)
		return 0, nil
	}
	if tags == nil {
		tags = []string{}
	}

	size, overlap := s.Chunking()

	var texts []string
	var metadatas []vectorstore.Metadata
	for _, doc := range docs {
		chunks, err := chunker.Split(doc.Text, size, overlap)
		if err != nil {
			return 0, fmt.Errorf("chunk %s: %w", doc.Path, err)
		}
		for _, chunk := range chunks {
			texts = append(texts, chunk)
			metadatas = append(metadatas, vectorstore.Metadata{
				ID:           uuid.NewString(),
				DocumentName: filepath.Base(doc.Path),
				SourcePath:   doc.Path,
				Version:      version,
				Tags:         tags,
				Text:         chunk,
			})
		}
	}
	if len(texts) == 0 {
		return 0, nil
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	if err := s.store.Add(ctx, texts, vectors, metadatas); err != nil {
		return 0, fmt.Errorf("add to store: %w", err)
	}
	if err := s.store.Persist(ctx); err != nil {
		return 0, fmt.Errorf("persist store: %w", err)
	}

	s.logger.Info("ingestion complete",
		"documents", len(docs),
		"chunks", len(texts),
	)
	return len(texts), nil
}
