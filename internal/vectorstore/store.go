// Package vectorstore persists embedding vectors with their chunk metadata
// and serves threshold-filtered nearest-neighbor search over them.
//
// Three interchangeable backends implement the Store interface:
//
//   - exact: in-process flat index with brute-force inner-product scan,
//     persisted as a binary vector file plus a JSON metadata file
//   - qdrant: a remote Qdrant collection reached over its REST API
//   - pgvector: a PostgreSQL table with the pgvector extension
//
// Backends are selected through New, keyed by the configured kind. Scores are
// backend-relative: the exact backend returns raw inner products over
// normalized vectors, qdrant returns its cosine similarity, pgvector returns
// negated inner-product distance. The similarity threshold in configuration
// is therefore interpreted in the selected backend's units.
package vectorstore

import (
	"context"
	"errors"
)

var (
	// ErrLengthMismatch indicates Add was called with texts, vectors, and
	// metadata slices of different lengths. The store is left unchanged.
	ErrLengthMismatch = errors.New("texts, vectors, and metadata lengths differ")

	// ErrDimensionMismatch indicates a vector whose dimension differs from
	// the store's configured dimension, either at Add time or when loading
	// a persisted index built with a different embedding model.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrCorruptIndex indicates persisted state that cannot be loaded as a
	// consistent (vectors, metadata) pair.
	ErrCorruptIndex = errors.New("corrupt vector index")

	// ErrUnknownKind indicates an unrecognized vector store kind in the
	// factory. Raised at startup, never at use time.
	ErrUnknownKind = errors.New("unknown vector store kind")
)

// Metadata is the provenance record stored alongside each vector. Text
// duplicates the chunk text so search results carry it directly, without a
// second lookup.
type Metadata struct {
	ID           string   `json:"id"`
	DocumentName string   `json:"document_name"`
	SourcePath   string   `json:"source_path"`
	Version      string   `json:"version,omitempty"`
	Tags         []string `json:"tags"`
	Text         string   `json:"text"`
}

// Hit is a single search result: the chunk text, a backend-relative
// similarity score (higher is better), and the stored metadata.
type Hit struct {
	Text     string
	Score    float64
	Metadata Metadata
}

// Store is the vector store capability shared by all backends.
type Store interface {
	// Add appends records. The three slices must have equal length
	// (ErrLengthMismatch otherwise, with no partial write). An empty batch
	// is a no-op. Existing records are never reordered or dropped.
	Add(ctx context.Context, texts []string, vectors [][]float32, metadatas []Metadata) error

	// Search returns up to topK hits ordered by descending score, each with
	// score >= threshold. Searching an empty store returns an empty slice.
	Search(ctx context.Context, vector []float32, topK int, threshold float64) ([]Hit, error)

	// Persist flushes durable state. A no-op for backends that are durable
	// on write; safe to call repeatedly.
	Persist(ctx context.Context) error

	// Count reports the number of stored vectors.
	Count(ctx context.Context) (int, error)

	// Clear removes every record and any durable state backing it, leaving
	// an empty store ready for new writes. Clearing an empty store is a
	// no-op.
	Clear(ctx context.Context) error
}
