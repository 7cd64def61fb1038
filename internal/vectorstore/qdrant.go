package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Leptons1618/nexa/internal/log"
)

const qdrantTimeout = 30 * time.Second

// Qdrant delegates storage and similarity search to a Qdrant server over its
// REST API. The collection uses cosine distance, so scores are Qdrant's
// cosine similarities. Persist is a no-op: the server is durable on write.
type Qdrant struct {
	baseURL    string
	apiKey     string
	collection string
	dim        int
	client     *http.Client
	logger     log.Logger
}

// NewQdrant connects to the server and creates the collection, sized to dim
// with cosine distance, if it does not exist yet.
func NewQdrant(ctx context.Context, baseURL, apiKey, collection string, dim int, logger log.Logger) (*Qdrant, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	s := &Qdrant{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: collection,
		dim:        dim,
		client:     &http.Client{Timeout: qdrantTimeout},
		logger:     logger.With("component", "vectorstore", "kind", "qdrant"),
	}

	if err := s.ensureCollection(ctx, dim); err != nil {
		return nil, fmt.Errorf("ensuring collection %q: %w", collection, err)
	}
	return s, nil
}

func (s *Qdrant) ensureCollection(ctx context.Context, dim int) error {
	status, err := s.do(ctx, http.MethodGet, "/collections/"+s.collection, nil, nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}

	s.logger.Info("creating collection", "collection", s.collection, "dimension", dim)
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	status, err = s.do(ctx, http.MethodPut, "/collections/"+s.collection, body, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("qdrant returned status %d", status)
	}
	return nil
}

type qdrantPoint struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Metadata  `json:"payload"`
}

// Add upserts one point per record. Each point gets a freshly generated
// uuid, distinct from the chunk id carried in the payload.
func (s *Qdrant) Add(ctx context.Context, texts []string, vectors [][]float32, metadatas []Metadata) error {
	if len(texts) != len(vectors) || len(metadatas) != len(texts) {
		return fmt.Errorf("%w: %d texts, %d vectors, %d metadata entries",
			ErrLengthMismatch, len(texts), len(vectors), len(metadatas))
	}
	if len(vectors) == 0 {
		return nil
	}

	points := make([]qdrantPoint, len(vectors))
	for i := range vectors {
		points[i] = qdrantPoint{
			ID:      uuid.NewString(),
			Vector:  vectors[i],
			Payload: metadatas[i],
		}
	}

	status, err := s.do(ctx, http.MethodPut,
		"/collections/"+s.collection+"/points?wait=true",
		map[string]any{"points": points}, nil)
	if err != nil {
		return fmt.Errorf("upserting points: %w", err)
	}
	if status >= 300 {
		return fmt.Errorf("upserting points: qdrant returned status %d", status)
	}
	return nil
}

// Search delegates to Qdrant's search endpoint, which applies both the
// result limit and the score threshold server-side.
func (s *Qdrant) Search(ctx context.Context, vector []float32, topK int, threshold float64) ([]Hit, error) {
	req := map[string]any{
		"vector":          vector,
		"limit":           topK,
		"score_threshold": threshold,
		"with_payload":    true,
	}
	var resp struct {
		Result []struct {
			Score   float64  `json:"score"`
			Payload Metadata `json:"payload"`
		} `json:"result"`
	}

	status, err := s.do(ctx, http.MethodPost,
		"/collections/"+s.collection+"/points/search", req, &resp)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	if status >= 300 {
		return nil, fmt.Errorf("searching: qdrant returned status %d", status)
	}

	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, Hit{Text: r.Payload.Text, Score: r.Score, Metadata: r.Payload})
	}
	return hits, nil
}

// Persist is a no-op: Qdrant persists on write.
func (s *Qdrant) Persist(context.Context) error { return nil }

// Count reads the server-side point count for the collection.
func (s *Qdrant) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	status, err := s.do(ctx, http.MethodPost,
		"/collections/"+s.collection+"/points/count",
		map[string]any{"exact": true}, &resp)
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	if status >= 300 {
		return 0, fmt.Errorf("counting points: qdrant returned status %d", status)
	}
	return resp.Result.Count, nil
}

// Clear drops the collection and recreates it empty with the same dimension
// and distance, so the store stays usable without a restart.
func (s *Qdrant) Clear(ctx context.Context) error {
	status, err := s.do(ctx, http.MethodDelete, "/collections/"+s.collection, nil, nil)
	if err != nil {
		return fmt.Errorf("deleting collection: %w", err)
	}
	if status >= 300 && status != http.StatusNotFound {
		return fmt.Errorf("deleting collection: qdrant returned status %d", status)
	}
	if err := s.ensureCollection(ctx, s.dim); err != nil {
		return fmt.Errorf("recreating collection %q: %w", s.collection, err)
	}
	s.logger.Info("cleared collection", "collection", s.collection)
	return nil
}

// do performs one REST round trip, decoding the response into out when
// non-nil. It returns the HTTP status so callers can distinguish "collection
// missing" from transport failure.
func (s *Qdrant) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("calling qdrant: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
