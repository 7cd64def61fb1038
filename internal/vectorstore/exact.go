package vectorstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/Leptons1618/nexa/internal/log"
)

// Binary index file layout: magic, format version, dimension, vector count,
// then count*dim little-endian float32 values in insertion order. A vector's
// position in the file is the same integer as its position in the metadata
// JSON array, which is what keeps the pair co-indexed.
const (
	indexMagic   = "NEXA"
	indexVersion = uint32(1)
)

// Exact is the in-process backend: a flat slice of vectors scanned in full
// with inner products. Vectors are normalized upstream, so the inner product
// approximates cosine similarity.
//
// The in-memory state is safe for concurrent use. The on-disk pair of files
// assumes a single writer process; serializing concurrent writer processes
// is the caller's responsibility.
type Exact struct {
	dim       int
	indexPath string
	metaPath  string
	logger    log.Logger

	mu       sync.RWMutex
	vectors  []float32 // flat, len = dim * len(metadata)
	metadata []Metadata
}

// NewExact opens an exact store with the given dimension and file paths.
// If both files exist they are loaded and validated; if either is missing
// the store starts empty. A persisted index with a different dimension is a
// fatal configuration error.
func NewExact(dim int, indexPath, metaPath string, logger log.Logger) (*Exact, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	s := &Exact{
		dim:       dim,
		indexPath: indexPath,
		metaPath:  metaPath,
		logger:    logger.With("component", "vectorstore", "kind", "exact"),
	}

	_, indexErr := os.Stat(indexPath)
	_, metaErr := os.Stat(metaPath)
	if indexErr != nil || metaErr != nil {
		s.logger.Info("initialising new index", "dimension", dim)
		return s, nil
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	s.logger.Info("loaded existing index", "path", indexPath, "vectors", len(s.metadata))
	return s, nil
}

// Count returns the number of stored records.
func (s *Exact) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.metadata), nil
}

// Clear drops the in-memory index and removes both persisted files. A
// missing file is not an error; a fresh store simply has nothing to remove.
func (s *Exact) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range []string{s.indexPath, s.metaPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}
	s.vectors = nil
	s.metadata = nil
	s.logger.Info("cleared index", "path", s.indexPath)
	return nil
}

// Add appends records to the in-memory index. All validation happens before
// any mutation, so a rejected batch leaves the store exactly as it was.
func (s *Exact) Add(_ context.Context, texts []string, vectors [][]float32, metadatas []Metadata) error {
	if len(texts) != len(vectors) || len(metadatas) != len(texts) {
		return fmt.Errorf("%w: %d texts, %d vectors, %d metadata entries",
			ErrLengthMismatch, len(texts), len(vectors), len(metadatas))
	}
	if len(vectors) == 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != s.dim {
			return fmt.Errorf("%w: vector %d has dimension %d, store has %d",
				ErrDimensionMismatch, i, len(v), s.dim)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vectors {
		s.vectors = append(s.vectors, v...)
	}
	s.metadata = append(s.metadata, metadatas...)
	return nil
}

// Search scans every stored vector, keeps scores at or above threshold, and
// returns the best topK in descending score order.
func (s *Exact) Search(_ context.Context, vector []float32, topK int, threshold float64) ([]Hit, error) {
	if len(vector) != s.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, store has %d",
			ErrDimensionMismatch, len(vector), s.dim)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.metadata) == 0 || topK <= 0 {
		return []Hit{}, nil
	}

	type scored struct {
		idx   int
		score float64
	}
	candidates := make([]scored, 0, len(s.metadata))
	for i := range s.metadata {
		row := s.vectors[i*s.dim : (i+1)*s.dim]
		var dot float64
		for j, x := range row {
			dot += float64(x) * float64(vector[j])
		}
		if dot >= threshold {
			candidates = append(candidates, scored{idx: i, score: dot})
		}
	}

	// Ties keep insertion order, so repeated searches are reproducible.
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	hits := make([]Hit, 0, len(candidates))
	for _, c := range candidates {
		meta := s.metadata[c.idx]
		hits = append(hits, Hit{Text: meta.Text, Score: c.score, Metadata: meta})
	}
	return hits, nil
}

// Persist writes the index and metadata files. Each file is written to a
// temporary sibling first and renamed into place, so a crash mid-write never
// truncates the previous state.
func (s *Exact) Persist(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.writeIndex(); err != nil {
		return fmt.Errorf("persisting vector index: %w", err)
	}
	if err := s.writeMetadata(); err != nil {
		return fmt.Errorf("persisting metadata: %w", err)
	}
	s.logger.Debug("persisted index", "vectors", len(s.metadata))
	return nil
}

func (s *Exact) writeIndex() error {
	tmp := s.indexPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	count := len(s.metadata)
	header := make([]byte, 0, 16)
	header = append(header, indexMagic...)
	header = binary.LittleEndian.AppendUint32(header, indexVersion)
	header = binary.LittleEndian.AppendUint32(header, uint32(s.dim))
	header = binary.LittleEndian.AppendUint32(header, uint32(count))

	buf := make([]byte, 0, len(header)+4*len(s.vectors))
	buf = append(buf, header...)
	for _, v := range s.vectors {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}

	if _, err := f.Write(buf); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.indexPath)
}

func (s *Exact) writeMetadata() error {
	data, err := json.Marshal(s.metadata)
	if err != nil {
		return err
	}
	tmp := s.metaPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.metaPath)
}

// load reads both persisted files and validates that they form a consistent
// pair. Any inconsistency is fatal: a corrupt index cannot be partially
// loaded.
func (s *Exact) load() error {
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		return fmt.Errorf("reading index file: %w", err)
	}
	if len(data) < 16 || string(data[:4]) != indexMagic {
		return fmt.Errorf("%w: %s is not a nexa vector index", ErrCorruptIndex, s.indexPath)
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != indexVersion {
		return fmt.Errorf("%w: unsupported index format version %d", ErrCorruptIndex, version)
	}
	dim := int(binary.LittleEndian.Uint32(data[8:12]))
	count := int(binary.LittleEndian.Uint32(data[12:16]))

	if dim != s.dim {
		return fmt.Errorf("%w: index has dimension %d, configuration expects %d",
			ErrDimensionMismatch, dim, s.dim)
	}

	want := 16 + 4*dim*count
	if len(data) != want {
		return fmt.Errorf("%w: index file is %d bytes, want %d for %d vectors",
			ErrCorruptIndex, len(data), want, count)
	}

	vectors := make([]float32, dim*count)
	for i := range vectors {
		bits := binary.LittleEndian.Uint32(data[16+4*i:])
		vectors[i] = math.Float32frombits(bits)
	}

	metaData, err := os.ReadFile(s.metaPath)
	if err != nil {
		return fmt.Errorf("reading metadata file: %w", err)
	}
	var metadata []Metadata
	if err := json.Unmarshal(metaData, &metadata); err != nil {
		return fmt.Errorf("%w: parsing metadata: %v", ErrCorruptIndex, err)
	}

	if len(metadata) != count {
		return fmt.Errorf("%w: %d vectors but %d metadata entries",
			ErrCorruptIndex, count, len(metadata))
	}

	s.vectors = vectors
	s.metadata = metadata
	return nil
}
