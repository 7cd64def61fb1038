package api

import (
	"net/http"

	"github.com/Leptons1618/nexa/internal/llm"
	"github.com/Leptons1618/nexa/internal/log"
)

// HealthHandler reports service and LLM provider status.
type HealthHandler struct {
	llm    llm.Client
	logger log.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(client llm.Client, logger log.Logger) *HealthHandler {
	return &HealthHandler{llm: client, logger: logger}
}

// RegisterRoutes registers health routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.check)
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status       string `json:"status"`
	LLMConnected bool   `json:"llm_connected"`
	Detail       string `json:"detail"`
}

// check probes the LLM provider. The service itself answering means the
// process is alive; the provider check decides ok vs degraded.
func (h *HealthHandler) check(w http.ResponseWriter, r *http.Request) {
	llmOK := h.llm.HealthCheck(r.Context())

	resp := HealthResponse{Status: "ok", LLMConnected: llmOK, Detail: "All systems operational"}
	if !llmOK {
		resp.Status = "degraded"
		resp.Detail = "LLM service unreachable"
	}
	h.logger.Info("health check", "status", resp.Status, "llm", llmOK)
	writeJSON(w, http.StatusOK, resp)
}
