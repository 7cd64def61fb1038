package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Leptons1618/nexa/internal/log"
)

// fakeQdrant implements the subset of the Qdrant REST API the client uses:
// collection lookup/creation/deletion, point upsert, count, and search.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]int // name -> dimension
	points      []qdrantPoint
	searchResp  []map[string]any
}

func (f *fakeQdrant) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.collections[r.PathValue("name")]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("PUT /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Cosine", body.Vectors.Distance)

		f.mu.Lock()
		f.collections[r.PathValue("name")] = body.Vectors.Size
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("PUT /collections/{name}/points", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Points []qdrantPoint `json:"points"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		f.mu.Lock()
		f.points = append(f.points, body.Points...)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("DELETE /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		delete(f.collections, r.PathValue("name"))
		f.points = nil
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /collections/{name}/points/count", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		n := len(f.points)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]int{"count": n}})
	})

	mux.HandleFunc("POST /collections/{name}/points/search", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Limit          int     `json:"limit"`
			ScoreThreshold float64 `json:"score_threshold"`
			WithPayload    bool    `json:"with_payload"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.WithPayload)

		f.mu.Lock()
		resp := f.searchResp
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"result": resp})
	})

	return mux
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *httptest.Server) {
	t.Helper()
	f := &fakeQdrant{collections: map[string]int{}}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return f, srv
}

func TestQdrantCreatesMissingCollection(t *testing.T) {
	f, srv := newFakeQdrant(t)

	_, err := NewQdrant(context.Background(), srv.URL, "", "nexa_support", 8, log.NewNop())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"nexa_support": 8}, f.collections)
}

func TestQdrantReusesExistingCollection(t *testing.T) {
	f, srv := newFakeQdrant(t)
	f.collections["nexa_support"] = 8

	_, err := NewQdrant(context.Background(), srv.URL, "", "nexa_support", 8, log.NewNop())
	require.NoError(t, err)
	assert.Len(t, f.collections, 1)
}

func TestQdrantAddGeneratesFreshIDs(t *testing.T) {
	f, srv := newFakeQdrant(t)
	s, err := NewQdrant(context.Background(), srv.URL, "", "c", 2, log.NewNop())
	require.NoError(t, err)

	metas := []Metadata{meta("chunk-1", "a.md", "alpha"), meta("chunk-2", "b.md", "beta")}
	err = s.Add(context.Background(), []string{"alpha", "beta"}, [][]float32{{1, 0}, {0, 1}}, metas)
	require.NoError(t, err)

	require.Len(t, f.points, 2)
	seen := map[string]bool{}
	for i, p := range f.points {
		assert.NotEmpty(t, p.ID)
		assert.NotEqual(t, metas[i].ID, p.ID, "point id must differ from chunk id")
		assert.False(t, seen[p.ID], "point ids must be unique")
		seen[p.ID] = true
		assert.Equal(t, metas[i].Text, p.Payload.Text)
	}
}

func TestQdrantAddLengthMismatch(t *testing.T) {
	f, srv := newFakeQdrant(t)
	s, err := NewQdrant(context.Background(), srv.URL, "", "c", 2, log.NewNop())
	require.NoError(t, err)

	err = s.Add(context.Background(), []string{"a", "b"}, [][]float32{{1, 0}}, []Metadata{meta("1", "a.md", "a")})
	assert.ErrorIs(t, err, ErrLengthMismatch)
	assert.Empty(t, f.points)
}

func TestQdrantAddEmptyBatch(t *testing.T) {
	f, srv := newFakeQdrant(t)
	s, err := NewQdrant(context.Background(), srv.URL, "", "c", 2, log.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Add(context.Background(), nil, nil, nil))
	assert.Empty(t, f.points)
}

func TestQdrantSearch(t *testing.T) {
	f, srv := newFakeQdrant(t)
	s, err := NewQdrant(context.Background(), srv.URL, "", "c", 2, log.NewNop())
	require.NoError(t, err)

	f.searchResp = []map[string]any{
		{"score": 0.91, "payload": meta("c1", "deploy.md", "run the deploy script")},
		{"score": 0.55, "payload": meta("c2", "setup.md", "install dependencies")},
	}

	hits, err := s.Search(context.Background(), []float32{1, 0}, 4, 0.35)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "run the deploy script", hits[0].Text)
	assert.Equal(t, 0.91, hits[0].Score)
	assert.Equal(t, "deploy.md", hits[0].Metadata.DocumentName)
	assert.Equal(t, "setup.md", hits[1].Metadata.DocumentName)
}

func TestQdrantCount(t *testing.T) {
	_, srv := newFakeQdrant(t)
	s, err := NewQdrant(context.Background(), srv.URL, "", "c", 2, log.NewNop())
	require.NoError(t, err)

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.Add(context.Background(),
		[]string{"alpha", "beta"},
		[][]float32{{1, 0}, {0, 1}},
		[]Metadata{meta("1", "a.md", "alpha"), meta("2", "b.md", "beta")},
	))

	n, err = s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestQdrantClearRecreatesCollection(t *testing.T) {
	f, srv := newFakeQdrant(t)
	s, err := NewQdrant(context.Background(), srv.URL, "", "c", 8, log.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Add(context.Background(),
		[]string{"alpha"}, [][]float32{{1, 0, 0, 0, 0, 0, 0, 0}},
		[]Metadata{meta("1", "a.md", "alpha")},
	))

	require.NoError(t, s.Clear(context.Background()))
	assert.Empty(t, f.points)
	assert.Equal(t, map[string]int{"c": 8}, f.collections, "recreated with the original dimension")
}

func TestQdrantPersistIsNoOp(t *testing.T) {
	_, srv := newFakeQdrant(t)
	s, err := NewQdrant(context.Background(), srv.URL, "", "c", 2, log.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Persist(context.Background()))
	require.NoError(t, s.Persist(context.Background()))
}
