// Package app is the composition root. Everything is constructed exactly
// once at startup, in dependency order, with explicit wiring; any
// construction failure aborts the process before it serves traffic.
package app

import (
	"context"
	"fmt"

	"github.com/Leptons1618/nexa/api"
	"github.com/Leptons1618/nexa/internal/config"
	"github.com/Leptons1618/nexa/internal/document"
	"github.com/Leptons1618/nexa/internal/embedding"
	"github.com/Leptons1618/nexa/internal/ingest"
	"github.com/Leptons1618/nexa/internal/llm"
	"github.com/Leptons1618/nexa/internal/log"
	"github.com/Leptons1618/nexa/internal/prompt"
	"github.com/Leptons1618/nexa/internal/rag"
	"github.com/Leptons1618/nexa/internal/session"
	"github.com/Leptons1618/nexa/internal/vectorstore"
)

// App holds the fully wired application.
type App struct {
	Config   *config.Config
	Logger   log.Logger
	Embedder embedding.Embedder
	Store    vectorstore.Store
	LLM      llm.Client
	Prompts  *prompt.Store
	Pipeline *rag.Pipeline
	Ingest   *ingest.Service
	Sessions *session.Store
	Server   *api.Server
}

// New builds the application from configuration. The embedder's dimension
// probe talks to the embedding server, so construction requires it to be
// reachable.
func New(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("prepare data directories: %w", err)
	}

	embedder, err := embedding.NewOllamaEmbedder(ctx, cfg.EmbeddingBaseURL, cfg.EmbeddingModel, cfg.EmbeddingBatchSize, logger)
	if err != nil {
		return nil, fmt.Errorf("build embedder: %w", err)
	}
	store, err := vectorstore.New(ctx, cfg, embedder.Dimension(), logger)
	if err != nil {
		return nil, fmt.Errorf("build vector store: %w", err)
	}
	logger.Info("vector store ready", "kind", cfg.VectorStore)

	client, err := llm.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build llm client: %w", err)
	}

	prompts, err := prompt.NewStore(cfg.SystemPromptPath, cfg.RAGPromptPath, logger)
	if err != nil {
		return nil, fmt.Errorf("build prompt store: %w", err)
	}

	sessions, err := session.NewStore(cfg.DataDir+"/history", logger)
	if err != nil {
		return nil, fmt.Errorf("build session store: %w", err)
	}

	pipeline := rag.New(embedder, store, client, prompts, cfg.TopK, cfg.SimilarityThreshold, logger)
	loader := document.NewLoader(logger)
	ingestSvc := ingest.New(loader, embedder, store, cfg.ChunkSize, cfg.ChunkOverlap, logger)
	server := api.NewServer(cfg, pipeline, ingestSvc, store, sessions, prompts, client, logger)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Embedder: embedder,
		Store:    store,
		LLM:      client,
		Prompts:  prompts,
		Pipeline: pipeline,
		Ingest:   ingestSvc,
		Sessions: sessions,
		Server:   server,
	}, nil
}

// Close releases resources held by backends that keep connections open.
func (a *App) Close() {
	if closer, ok := a.Store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.Logger.Warn("closing vector store", "error", err)
		}
	}
}
