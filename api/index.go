package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/Leptons1618/nexa/internal/config"
	"github.com/Leptons1618/nexa/internal/log"
	"github.com/Leptons1618/nexa/internal/vectorstore"
)

// IndexHandler exposes maintenance operations on the vector index. Chunks
// are never deleted individually; the only removal path is clearing the
// whole index and re-ingesting.
type IndexHandler struct {
	store    vectorstore.Store
	ingester Ingester
	cfg      *config.Config
	logger   log.Logger
}

// NewIndexHandler creates a new index handler.
func NewIndexHandler(store vectorstore.Store, ing Ingester, cfg *config.Config, logger log.Logger) *IndexHandler {
	return &IndexHandler{store: store, ingester: ing, cfg: cfg, logger: logger}
}

// RegisterRoutes registers index routes on the given mux.
func (h *IndexHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/index/stats", h.stats)
	mux.HandleFunc("POST /api/index/clear", h.clear)
	mux.HandleFunc("POST /api/index/rebuild", h.rebuild)
}

// IndexStatsResponse describes the current index. File paths and sizes refer
// to the exact backend's on-disk pair; remote backends report zero sizes.
type IndexStatsResponse struct {
	TotalVectors      int    `json:"total_vectors"`
	VectorStore       string `json:"vector_store"`
	IndexPath         string `json:"index_path"`
	MetadataPath      string `json:"metadata_path"`
	IndexSizeBytes    int64  `json:"index_size_bytes"`
	MetadataSizeBytes int64  `json:"metadata_size_bytes"`
}

func (h *IndexHandler) stats(w http.ResponseWriter, r *http.Request) {
	total, err := h.store.Count(r.Context())
	if err != nil {
		h.logger.Error("failed to count vectors", "error", err)
		writeError(w, http.StatusBadGateway, "stats_failed", "failed to read index stats")
		return
	}

	writeJSON(w, http.StatusOK, IndexStatsResponse{
		TotalVectors:      total,
		VectorStore:       h.cfg.VectorStore,
		IndexPath:         h.cfg.IndexPath,
		MetadataPath:      h.cfg.MetadataPath,
		IndexSizeBytes:    fileSize(h.cfg.IndexPath),
		MetadataSizeBytes: fileSize(h.cfg.MetadataPath),
	})
}

func (h *IndexHandler) clear(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(r.Context()); err != nil {
		h.logger.Error("failed to clear index", "error", err)
		writeError(w, http.StatusInternalServerError, "clear_failed", "failed to clear index")
		return
	}
	h.logger.Info("index cleared")
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// RebuildRequest optionally names documents to re-ingest after the clear. An
// empty body (or empty paths) leaves the index empty, ready for uploads.
type RebuildRequest struct {
	Paths   []string `json:"paths,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Version string   `json:"version,omitempty"`
}

// RebuildResponse reports the outcome of a rebuild.
type RebuildResponse struct {
	Rebuilt       bool `json:"rebuilt"`
	ChunksIndexed int  `json:"chunks_indexed"`
}

func (h *IndexHandler) rebuild(w http.ResponseWriter, r *http.Request) {
	var req RebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	if err := h.store.Clear(r.Context()); err != nil {
		h.logger.Error("failed to clear index", "error", err)
		writeError(w, http.StatusInternalServerError, "rebuild_failed", "failed to clear index")
		return
	}

	count := 0
	if len(req.Paths) > 0 {
		var err error
		count, err = h.ingester.Ingest(r.Context(), req.Paths, req.Tags, req.Version)
		if err != nil {
			h.logger.Error("re-ingestion failed", "error", err)
			writeError(w, http.StatusBadGateway, "rebuild_failed", "index cleared but re-ingestion failed")
			return
		}
	}

	h.logger.Info("index rebuilt", "chunks", count)
	writeJSON(w, http.StatusOK, RebuildResponse{Rebuilt: true, ChunksIndexed: count})
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
