package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Leptons1618/nexa/internal/log"
)

// fakeOllama serves /api/embed, returning a fixed-dimension vector derived
// from each input's length so order is observable.
func fakeOllama(t *testing.T, dim int, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		*calls++

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		embeddings := make([][]float32, len(req.Input))
		for i, text := range req.Input {
			v := make([]float32, dim)
			v[0] = float32(len(text))
			v[1] = 1
			embeddings[i] = v
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings}))
	}))
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestNewOllamaEmbedderProbesDimension(t *testing.T) {
	var calls int
	srv := fakeOllama(t, 8, &calls)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), srv.URL, "test-model", 4, log.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 8, e.Dimension())
	assert.Equal(t, 1, calls, "construction makes exactly one probe call")
}

func TestNewOllamaEmbedderUnreachable(t *testing.T) {
	_, err := NewOllamaEmbedder(context.Background(), "http://127.0.0.1:1", "m", 4, log.NewNop())
	assert.Error(t, err)
}

func TestEmbedDocumentsBatchesAndNormalizes(t *testing.T) {
	var calls int
	srv := fakeOllama(t, 4, &calls)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), srv.URL, "test-model", 2, log.NewNop())
	require.NoError(t, err)
	calls = 0

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := e.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	assert.Equal(t, 3, calls, "5 texts at batch size 2 need 3 calls")

	for i, v := range vecs {
		require.Len(t, v, 4)
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5, "vector %d must be unit length", i)
	}

	// Order preserved: the fake encodes input length into the vector, and
	// the inputs have strictly increasing lengths, so the normalized first
	// component must increase across the batch.
	for i := 1; i < len(vecs); i++ {
		assert.Greater(t, vecs[i][0], vecs[i-1][0], "vector %d out of order", i)
	}
}

func TestEmbedDocumentsEmpty(t *testing.T) {
	var calls int
	srv := fakeOllama(t, 4, &calls)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), srv.URL, "m", 2, log.NewNop())
	require.NoError(t, err)
	calls = 0

	vecs, err := e.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Zero(t, calls, "empty batch must not call the provider")
}

func TestEmbedQuery(t *testing.T) {
	var calls int
	srv := fakeOllama(t, 4, &calls)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), srv.URL, "m", 2, log.NewNop())
	require.NoError(t, err)

	v, err := e.EmbedQuery(context.Background(), "how do I deploy?")
	require.NoError(t, err)
	assert.Len(t, v, 4)
}

func TestEmbedDimensionMismatch(t *testing.T) {
	dim := 4
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		embeddings := make([][]float32, len(req.Input))
		for i := range embeddings {
			embeddings[i] = make([]float32, dim)
			embeddings[i][0] = 1
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), srv.URL, "m", 8, log.NewNop())
	require.NoError(t, err)

	// Shrink the served dimension after the probe; subsequent calls must fail.
	dim = 3
	_, err = e.EmbedQuery(context.Background(), "q")
	assert.Error(t, err)
}
