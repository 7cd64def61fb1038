// Package api exposes the chat backend over HTTP.
//
// Endpoints:
//
//	GET  /api/health            — liveness + LLM reachability
//	POST /api/chat              — synchronous RAG answer
//	POST /api/chat/stream       — SSE token stream
//	POST /api/ingest            — index documents by path
//	POST /api/upload            — upload files and auto-ingest
//	GET  /api/uploads           — list stored uploads
//	DELETE /api/uploads/{name}  — delete one stored upload
//	GET  /api/index/stats       — vector index statistics
//	POST /api/index/clear       — drop the whole index
//	POST /api/index/rebuild     — drop the index and optionally re-ingest
//	GET  /api/config            — effective runtime configuration
//	GET  /api/settings/llm      — current generation and retrieval settings
//	PUT  /api/settings/llm      — patch generation and retrieval settings
//	GET  /api/models            — models installed on the Ollama server
//	PUT  /api/models            — switch the active Ollama model
//	GET  /api/models/status     — Ollama reachability and active model
//	GET  /api/sessions          — list chat sessions
//	POST /api/sessions          — create or update a session
//	DELETE /api/sessions        — delete every session
//	GET  /api/sessions/{id}     — session detail
//	DELETE /api/sessions/{id}   — delete a session
//	GET  /api/prompts           — current prompt texts
//	PUT  /api/prompts           — update prompt texts
//
// File structure:
//   - server.go: server setup and lifecycle
//   - middleware.go: recovery and request logging
//   - ratelimit.go: per-IP token bucket limiting
//   - health.go, chat.go, ingest.go, index.go, session.go, config.go,
//     settings.go: handlers
//   - response.go: JSON response helpers
package api

import (
	"context"
	"iter"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/Leptons1618/nexa/internal/config"
	"github.com/Leptons1618/nexa/internal/llm"
	"github.com/Leptons1618/nexa/internal/log"
	"github.com/Leptons1618/nexa/internal/prompt"
	"github.com/Leptons1618/nexa/internal/rag"
	"github.com/Leptons1618/nexa/internal/session"
	"github.com/Leptons1618/nexa/internal/vectorstore"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to stop slow-client stalls.
	ReadHeaderTimeout = 10 * time.Second

	// IdleTimeout is the keep-alive idle bound. There is deliberately no
	// WriteTimeout: SSE responses stay open as long as the model streams.
	IdleTimeout = 120 * time.Second
)

// Generator runs retrieval-augmented generation. Satisfied by *rag.Pipeline.
type Generator interface {
	Generate(ctx context.Context, query string) (string, []string, error)
	GenerateStream(ctx context.Context, query string) iter.Seq2[rag.Event, error]
}

// Ingester indexes documents. Satisfied by *ingest.Service.
type Ingester interface {
	Ingest(ctx context.Context, paths, tags []string, version string) (int, error)
}

// Server is the HTTP server for the chat backend.
type Server struct {
	mux     *http.ServeMux
	limiter *ipLimiter
	logger  log.Logger

	health   *HealthHandler
	chat     *ChatHandler
	ingest   *IngestHandler
	index    *IndexHandler
	session  *SessionHandler
	config   *ConfigHandler
	settings *SettingsHandler
}

// NewServer creates an HTTP server with all routes registered. The settings
// endpoints tune whichever capabilities the collaborators expose: a generator
// that is also a RetrievalTuner gets runtime top-k control, an ingester that
// is also a ChunkingTuner gets runtime chunking control.
func NewServer(cfg *config.Config, gen Generator, ing Ingester, store vectorstore.Store, sessions *session.Store, prompts *prompt.Store, client llm.Client, logger log.Logger) *Server {
	mux := http.NewServeMux()

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}

	retrieval, _ := gen.(RetrievalTuner)
	chunking, _ := ing.(ChunkingTuner)

	s := &Server{
		mux:      mux,
		limiter:  newIPLimiter(rate.Limit(burst)/2, burst),
		logger:   logger.With("component", "api"),
		health:   NewHealthHandler(client, logger),
		chat:     NewChatHandler(gen, logger),
		ingest:   NewIngestHandler(ing, cfg.DataDir, logger),
		index:    NewIndexHandler(store, ing, cfg, logger),
		session:  NewSessionHandler(sessions, logger),
		config:   NewConfigHandler(cfg, client, prompts, logger),
		settings: NewSettingsHandler(client, retrieval, chunking, logger),
	}

	s.health.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)
	s.ingest.RegisterRoutes(mux)
	s.index.RegisterRoutes(mux)
	s.session.RegisterRoutes(mux)
	s.config.RegisterRoutes(mux)
	s.settings.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → rate limit → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
		rateLimitMiddleware(s.limiter),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
