package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Leptons1618/nexa/internal/config"
	"github.com/Leptons1618/nexa/internal/llm"
	"github.com/Leptons1618/nexa/internal/log"
	"github.com/Leptons1618/nexa/internal/prompt"
)

// ConfigHandler exposes the effective runtime configuration, model listings
// and editable prompts. Secrets never appear in any payload.
type ConfigHandler struct {
	cfg     *config.Config
	llm     llm.Client
	prompts *prompt.Store
	logger  log.Logger
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(cfg *config.Config, client llm.Client, prompts *prompt.Store, logger log.Logger) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, llm: client, prompts: prompts, logger: logger}
}

// RegisterRoutes registers config routes on the given mux.
func (h *ConfigHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/config", h.getConfig)
	mux.HandleFunc("GET /api/models", h.listModels)
	mux.HandleFunc("PUT /api/models", h.switchModel)
	mux.HandleFunc("GET /api/models/status", h.modelStatus)
	mux.HandleFunc("GET /api/prompts", h.getPrompts)
	mux.HandleFunc("PUT /api/prompts", h.updatePrompts)
}

// ConfigResponse is the public view of the configuration.
type ConfigResponse struct {
	LLMProvider    string `json:"llm_provider"`
	ModelName      string `json:"model_name"`
	VectorStore    string `json:"vector_store"`
	EmbeddingModel string `json:"embedding_model"`
}

func (h *ConfigHandler) getConfig(w http.ResponseWriter, _ *http.Request) {
	model := h.cfg.OllamaModel
	if h.cfg.LLMProvider == config.ProviderCloud {
		model = h.cfg.CloudModel
	}
	// The active model can diverge from configuration after a switch.
	if named, ok := h.llm.(interface{ Model() string }); ok {
		model = named.Model()
	}
	writeJSON(w, http.StatusOK, ConfigResponse{
		LLMProvider:    h.cfg.LLMProvider,
		ModelName:      model,
		VectorStore:    h.cfg.VectorStore,
		EmbeddingModel: h.cfg.EmbeddingModel,
	})
}

// ollamaOnly returns the underlying Ollama client or rejects the request.
func (h *ConfigHandler) ollamaOnly(w http.ResponseWriter) (*llm.Ollama, bool) {
	client, ok := h.llm.(*llm.Ollama)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request",
			"model endpoints are only available with the ollama provider")
		return nil, false
	}
	return client, true
}

func (h *ConfigHandler) listModels(w http.ResponseWriter, r *http.Request) {
	client, ok := h.ollamaOnly(w)
	if !ok {
		return
	}

	models, err := client.ListModels(r.Context())
	if err != nil {
		h.logger.Error("failed to list models", "error", err)
		writeError(w, http.StatusBadGateway, "models_failed", "failed to list models")
		return
	}
	if models == nil {
		models = []llm.ModelEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

// ModelSwitchRequest names the model to activate.
type ModelSwitchRequest struct {
	Model string `json:"model"`
}

// ModelSwitchResponse reports the switch that took place.
type ModelSwitchResponse struct {
	PreviousModel string `json:"previous_model"`
	CurrentModel  string `json:"current_model"`
}

// switchModel changes the active Ollama model. The requested model must be
// installed on the server; switching to an absent model would only fail on
// the next chat request.
func (h *ConfigHandler) switchModel(w http.ResponseWriter, r *http.Request) {
	client, ok := h.ollamaOnly(w)
	if !ok {
		return
	}

	var req ModelSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "model is required")
		return
	}

	models, err := client.ListModels(r.Context())
	if err != nil {
		h.logger.Error("failed to list models", "error", err)
		writeError(w, http.StatusBadGateway, "models_failed", "failed to verify model availability")
		return
	}
	installed := false
	for _, m := range models {
		if m.Name == req.Model {
			installed = true
			break
		}
	}
	if !installed {
		writeError(w, http.StatusBadRequest, "invalid_request",
			fmt.Sprintf("model not installed: %s", req.Model))
		return
	}

	previous := client.SetModel(req.Model)
	writeJSON(w, http.StatusOK, ModelSwitchResponse{
		PreviousModel: previous,
		CurrentModel:  req.Model,
	})
}

// ModelStatusResponse reports provider reachability.
type ModelStatusResponse struct {
	Running         bool   `json:"running"`
	BaseURL         string `json:"base_url"`
	Model           string `json:"model"`
	ModelsAvailable int    `json:"models_available"`
}

func (h *ConfigHandler) modelStatus(w http.ResponseWriter, r *http.Request) {
	client, ok := h.ollamaOnly(w)
	if !ok {
		return
	}

	running := client.HealthCheck(r.Context())
	available := 0
	if running {
		if models, err := client.ListModels(r.Context()); err == nil {
			available = len(models)
		}
	}
	writeJSON(w, http.StatusOK, ModelStatusResponse{
		Running:         running,
		BaseURL:         h.cfg.OllamaBaseURL,
		Model:           client.Model(),
		ModelsAvailable: available,
	})
}

// PromptsResponse carries both prompt texts.
type PromptsResponse struct {
	SystemPrompt string `json:"system_prompt"`
	RAGPrompt    string `json:"rag_prompt"`
}

// PromptsUpdateRequest updates one or both prompts; a missing field leaves
// that prompt unchanged.
type PromptsUpdateRequest struct {
	SystemPrompt *string `json:"system_prompt"`
	RAGPrompt    *string `json:"rag_prompt"`
}

func (h *ConfigHandler) getPrompts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, PromptsResponse{
		SystemPrompt: h.prompts.System(),
		RAGPrompt:    h.prompts.RAG(),
	})
}

func (h *ConfigHandler) updatePrompts(w http.ResponseWriter, r *http.Request) {
	var req PromptsUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	if err := h.prompts.Update(req.SystemPrompt, req.RAGPrompt); err != nil {
		h.logger.Error("failed to update prompts", "error", err)
		writeError(w, http.StatusInternalServerError, "update_failed", "failed to update prompts")
		return
	}
	h.getPrompts(w, r)
}
