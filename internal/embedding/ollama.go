package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Leptons1618/nexa/internal/log"
)

const embedTimeout = 120 * time.Second

// OllamaEmbedder generates embeddings through an Ollama server's /api/embed
// endpoint. Batches of texts are sent in slices of at most batchSize per
// request; results preserve input order.
type OllamaEmbedder struct {
	baseURL   string
	model     string
	batchSize int
	dimension int
	client    *http.Client
	logger    log.Logger
}

// NewOllamaEmbedder creates an embedder bound to the given Ollama server and
// model. It probes the model once to learn the output dimension; a probe
// failure is returned as an error since nothing downstream can work without
// a known dimension.
func NewOllamaEmbedder(ctx context.Context, baseURL, model string, batchSize int, logger log.Logger) (*OllamaEmbedder, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 32
	}

	e := &OllamaEmbedder{
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		batchSize: batchSize,
		client:    &http.Client{Timeout: embedTimeout},
		logger:    logger.With("component", "embedder"),
	}

	probe, err := e.embedBatch(ctx, []string{"dimension probe"})
	if err != nil {
		return nil, fmt.Errorf("probing embedding dimension: %w", err)
	}
	if len(probe) == 0 || len(probe[0]) == 0 {
		return nil, fmt.Errorf("embedding model %q returned an empty vector", model)
	}
	e.dimension = len(probe[0])

	e.logger.Info("embedder ready", "model", model, "dimension", e.dimension, "batch_size", batchSize)
	return e, nil
}

// Dimension returns the model's output dimension.
func (e *OllamaEmbedder) Dimension() int { return e.dimension }

// EmbedDocuments embeds texts in order, batching requests at the configured
// batch size. An empty input returns an empty slice without any call.
func (e *OllamaEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d..%d: %w", start, end, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedding batch %d..%d: got %d vectors for %d texts",
				start, end, len(batch), end-start)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors, want 1", len(vecs))
	}
	return vecs[0], nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// embedBatch is one /api/embed round trip. Returned vectors are normalized
// and dimension-checked against the probed dimension (when known).
func (e *OllamaEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed returned %s", resp.Status)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	for i, v := range out.Embeddings {
		if e.dimension != 0 && len(v) != e.dimension {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), e.dimension)
		}
		Normalize(v)
	}
	return out.Embeddings, nil
}
