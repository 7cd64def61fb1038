package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Leptons1618/nexa/internal/llm"
	"github.com/Leptons1618/nexa/internal/log"
)

// RetrievalTuner adjusts retrieval parameters at runtime. Satisfied by
// *rag.Pipeline.
type RetrievalTuner interface {
	Retrieval() (topK int, threshold float64)
	SetRetrieval(topK int, threshold float64)
}

// ChunkingTuner adjusts the chunking window at runtime. Satisfied by
// *ingest.Service.
type ChunkingTuner interface {
	Chunking() (size, overlap int)
	SetChunking(size, overlap int) error
}

// SettingsHandler reads and patches generation and retrieval settings while
// the server runs. Changes apply to subsequent requests only and do not
// survive a restart; persistent values live in the config file.
type SettingsHandler struct {
	llm       llm.Client
	retrieval RetrievalTuner
	chunking  ChunkingTuner
	logger    log.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(client llm.Client, retrieval RetrievalTuner, chunking ChunkingTuner, logger log.Logger) *SettingsHandler {
	return &SettingsHandler{llm: client, retrieval: retrieval, chunking: chunking, logger: logger}
}

// RegisterRoutes registers settings routes on the given mux.
func (h *SettingsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/settings/llm", h.get)
	mux.HandleFunc("PUT /api/settings/llm", h.update)
}

// LLMSettingsResponse is the full settings view returned by both endpoints.
type LLMSettingsResponse struct {
	Temperature         float64 `json:"temperature"`
	TopP                float64 `json:"top_p"`
	MaxTokens           int     `json:"max_tokens"`
	ChunkSize           int     `json:"chunk_size"`
	ChunkOverlap        int     `json:"chunk_overlap"`
	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
}

// LLMSettingsUpdateRequest patches settings; a missing field leaves the
// current value unchanged.
type LLMSettingsUpdateRequest struct {
	Temperature         *float64 `json:"temperature"`
	TopP                *float64 `json:"top_p"`
	MaxTokens           *int     `json:"max_tokens"`
	ChunkSize           *int     `json:"chunk_size"`
	ChunkOverlap        *int     `json:"chunk_overlap"`
	TopK                *int     `json:"top_k"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
}

func (h *SettingsHandler) current() LLMSettingsResponse {
	var resp LLMSettingsResponse
	if tunable, ok := h.llm.(llm.Tunable); ok {
		opts := tunable.Options()
		resp.Temperature = opts.Temperature
		resp.TopP = opts.TopP
		resp.MaxTokens = opts.MaxTokens
	}
	if h.retrieval != nil {
		resp.TopK, resp.SimilarityThreshold = h.retrieval.Retrieval()
	}
	if h.chunking != nil {
		resp.ChunkSize, resp.ChunkOverlap = h.chunking.Chunking()
	}
	return resp
}

func (h *SettingsHandler) get(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.current())
}

func (h *SettingsHandler) update(w http.ResponseWriter, r *http.Request) {
	var req LLMSettingsUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	next := h.current()
	if req.Temperature != nil {
		next.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		next.TopP = *req.TopP
	}
	if req.MaxTokens != nil {
		next.MaxTokens = *req.MaxTokens
	}
	if req.ChunkSize != nil {
		next.ChunkSize = *req.ChunkSize
	}
	if req.ChunkOverlap != nil {
		next.ChunkOverlap = *req.ChunkOverlap
	}
	if req.TopK != nil {
		next.TopK = *req.TopK
	}
	if req.SimilarityThreshold != nil {
		next.SimilarityThreshold = *req.SimilarityThreshold
	}

	if err := validateSettings(next); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	// Chunking first: it is the only field set that can still be rejected.
	if h.chunking != nil && (req.ChunkSize != nil || req.ChunkOverlap != nil) {
		if err := h.chunking.SetChunking(next.ChunkSize, next.ChunkOverlap); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}
	if tunable, ok := h.llm.(llm.Tunable); ok {
		tunable.SetOptions(llm.Options{
			Temperature: next.Temperature,
			TopP:        next.TopP,
			MaxTokens:   next.MaxTokens,
		})
	}
	if h.retrieval != nil {
		h.retrieval.SetRetrieval(next.TopK, next.SimilarityThreshold)
	}

	h.logger.Info("llm settings updated",
		"temperature", next.Temperature,
		"top_p", next.TopP,
		"max_tokens", next.MaxTokens,
		"top_k", next.TopK,
	)
	writeJSON(w, http.StatusOK, h.current())
}

// validateSettings checks the combined result of a patch. The similarity
// threshold is deliberately unconstrained: its units depend on the vector
// store backend.
func validateSettings(s LLMSettingsResponse) error {
	if s.Temperature < 0 || s.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if s.TopP <= 0 || s.TopP > 1 {
		return fmt.Errorf("top_p must be in (0, 1]")
	}
	if s.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1")
	}
	if s.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1")
	}
	if s.ChunkSize < 1 || s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkSize {
		return fmt.Errorf("chunk overlap must be smaller than chunk size")
	}
	return nil
}
