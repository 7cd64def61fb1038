package api

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Leptons1618/nexa/internal/config"
	"github.com/Leptons1618/nexa/internal/llm"
	"github.com/Leptons1618/nexa/internal/log"
	"github.com/Leptons1618/nexa/internal/prompt"
	"github.com/Leptons1618/nexa/internal/rag"
	"github.com/Leptons1618/nexa/internal/session"
	"github.com/Leptons1618/nexa/internal/vectorstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type fakeGenerator struct {
	answer  string
	sources []string
	events  []rag.Event
	err     error

	topK      int
	threshold float64
}

func (f *fakeGenerator) Generate(_ context.Context, query string) (string, []string, error) {
	if strings.TrimSpace(query) == "" {
		return "", nil, rag.ErrEmptyQuery
	}
	return f.answer, f.sources, f.err
}

func (f *fakeGenerator) GenerateStream(_ context.Context, _ string) iter.Seq2[rag.Event, error] {
	return func(yield func(rag.Event, error) bool) {
		if f.err != nil {
			yield(rag.Event{}, f.err)
			return
		}
		for _, ev := range f.events {
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (f *fakeGenerator) Retrieval() (int, float64) { return f.topK, f.threshold }

func (f *fakeGenerator) SetRetrieval(topK int, threshold float64) {
	f.topK, f.threshold = topK, threshold
}

type fakeIngester struct {
	count    int
	err      error
	gotPaths []string
	gotTags  []string
	gotVer   string

	chunkSize    int
	chunkOverlap int
}

func (f *fakeIngester) Ingest(_ context.Context, paths, tags []string, version string) (int, error) {
	f.gotPaths, f.gotTags, f.gotVer = paths, tags, version
	return f.count, f.err
}

func (f *fakeIngester) Chunking() (int, int) { return f.chunkSize, f.chunkOverlap }

func (f *fakeIngester) SetChunking(size, overlap int) error {
	if size <= 0 || overlap < 0 || overlap >= size {
		return fmt.Errorf("chunk overlap must be smaller than chunk size")
	}
	f.chunkSize, f.chunkOverlap = size, overlap
	return nil
}

type fakeLLM struct {
	healthy bool
	opts    llm.Options
}

func (f *fakeLLM) Generate(_ context.Context, _, _ string) (string, error) { return "", nil }

func (f *fakeLLM) GenerateStream(_ context.Context, _, _ string) iter.Seq2[string, error] {
	return func(func(string, error) bool) {}
}

func (f *fakeLLM) HealthCheck(_ context.Context) bool { return f.healthy }

func (f *fakeLLM) Options() llm.Options        { return f.opts }
func (f *fakeLLM) SetOptions(opts llm.Options) { f.opts = opts }

type fakeVecStore struct {
	count      int
	clearCalls int
	clearErr   error
}

func (f *fakeVecStore) Add(_ context.Context, texts []string, _ [][]float32, _ []vectorstore.Metadata) error {
	f.count += len(texts)
	return nil
}

func (f *fakeVecStore) Search(_ context.Context, _ []float32, _ int, _ float64) ([]vectorstore.Hit, error) {
	return nil, nil
}

func (f *fakeVecStore) Persist(_ context.Context) error { return nil }

func (f *fakeVecStore) Count(_ context.Context) (int, error) { return f.count, nil }

func (f *fakeVecStore) Clear(_ context.Context) error {
	f.clearCalls++
	if f.clearErr != nil {
		return f.clearErr
	}
	f.count = 0
	return nil
}

type serverDeps struct {
	gen   *fakeGenerator
	ing   *fakeIngester
	llm   *fakeLLM
	store *fakeVecStore
	cfg   *config.Config
}

func newTestServer(t *testing.T, deps serverDeps) http.Handler {
	t.Helper()

	if deps.gen == nil {
		deps.gen = &fakeGenerator{topK: 4, threshold: 0.35}
	}
	if deps.ing == nil {
		deps.ing = &fakeIngester{chunkSize: 400, chunkOverlap: 80}
	}
	if deps.llm == nil {
		deps.llm = &fakeLLM{healthy: true, opts: llm.Options{Temperature: 0.2, TopP: 0.9, MaxTokens: 512}}
	}
	if deps.store == nil {
		deps.store = &fakeVecStore{}
	}
	if deps.cfg == nil {
		deps.cfg = &config.Config{
			LLMProvider:    config.ProviderOllama,
			OllamaModel:    "llama3",
			VectorStore:    config.StoreExact,
			EmbeddingModel: "nomic-embed-text",
			DataDir:        t.TempDir(),
			RateBurst:      1000,
		}
	}

	dir := t.TempDir()
	sessions, err := session.NewStore(filepath.Join(dir, "history"), log.NewNop())
	require.NoError(t, err)
	prompts, err := prompt.NewStore(filepath.Join(dir, "system.txt"), filepath.Join(dir, "rag.txt"), log.NewNop())
	require.NoError(t, err)

	srv := NewServer(deps.cfg, deps.gen, deps.ing, deps.store, sessions, prompts, deps.llm, log.NewNop())
	return srv.Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("ok when llm reachable", func(t *testing.T) {
		handler := newTestServer(t, serverDeps{llm: &fakeLLM{healthy: true}})
		w := doJSON(t, handler, http.MethodGet, "/api/health", "")

		require.Equal(t, http.StatusOK, w.Code)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.True(t, resp.LLMConnected)
	})

	t.Run("degraded when llm unreachable", func(t *testing.T) {
		handler := newTestServer(t, serverDeps{llm: &fakeLLM{healthy: false}})
		w := doJSON(t, handler, http.MethodGet, "/api/health", "")

		require.Equal(t, http.StatusOK, w.Code)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "degraded", resp.Status)
		assert.False(t, resp.LLMConnected)
	})
}

func TestConfigEndpoint(t *testing.T) {
	handler := newTestServer(t, serverDeps{})
	w := doJSON(t, handler, http.MethodGet, "/api/config", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp ConfigResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ollama", resp.LLMProvider)
	assert.Equal(t, "llama3", resp.ModelName)
	assert.Equal(t, "exact", resp.VectorStore)
	assert.NotContains(t, w.Body.String(), "api_key", "secrets never leave the server")
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := log.NewNop()
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := chain(panicking, recoveryMiddleware(logger), loggingMiddleware(logger))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRateLimit(t *testing.T) {
	limiter := newIPLimiter(1, 2)
	handler := rateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 4)
	for range 4 {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)

	// A different client gets its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	handler := newTestServer(t, serverDeps{})
	w := doJSON(t, handler, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIngestEndpoint(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		ing := &fakeIngester{count: 12}
		handler := newTestServer(t, serverDeps{ing: ing})

		w := doJSON(t, handler, http.MethodPost, "/api/ingest",
			`{"paths":["docs/"],"tags":["manual"],"version":"2.0"}`)

		require.Equal(t, http.StatusOK, w.Code)
		var resp IngestResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 12, resp.ChunksIndexed)
		assert.Equal(t, []string{"docs/"}, ing.gotPaths)
		assert.Equal(t, []string{"manual"}, ing.gotTags)
		assert.Equal(t, "2.0", ing.gotVer)
	})

	t.Run("empty paths rejected", func(t *testing.T) {
		handler := newTestServer(t, serverDeps{})
		w := doJSON(t, handler, http.MethodPost, "/api/ingest", `{"paths":[]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("failure maps to 502", func(t *testing.T) {
		handler := newTestServer(t, serverDeps{ing: &fakeIngester{err: fmt.Errorf("embedder down")}})
		w := doJSON(t, handler, http.MethodPost, "/api/ingest", `{"paths":["docs/"]}`)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestPromptsEndpoints(t *testing.T) {
	handler := newTestServer(t, serverDeps{})

	w := doJSON(t, handler, http.MethodGet, "/api/prompts", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp PromptsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, prompt.DefaultSystem, resp.SystemPrompt)

	w = doJSON(t, handler, http.MethodPut, "/api/prompts", `{"system_prompt":"new system"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "new system", resp.SystemPrompt)
	assert.Equal(t, prompt.DefaultRAG, resp.RAGPrompt, "omitted field untouched")
}
