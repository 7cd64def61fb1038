package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Leptons1618/nexa/internal/log"
	"github.com/Leptons1618/nexa/internal/rag"
)

// MaxMessageLength bounds the chat message size.
const MaxMessageLength = 8000

// ChatHandler handles chat endpoints.
//
// Endpoints:
//   - POST /api/chat        — synchronous (JSON request/response)
//   - POST /api/chat/stream — streaming (Server-Sent Events)
type ChatHandler struct {
	gen    Generator
	logger log.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(gen Generator, logger log.Logger) *ChatHandler {
	return &ChatHandler{gen: gen, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.handleChat)
	mux.HandleFunc("POST /api/chat/stream", h.handleStream)
}

// ChatRequest is the request body for both chat endpoints.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the synchronous chat payload.
type ChatResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

func (h *ChatHandler) parseMessage(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return "", false
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message cannot be empty")
		return "", false
	}
	if len(msg) > MaxMessageLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "message too long")
		return "", false
	}
	return msg, true
}

func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.parseMessage(w, r)
	if !ok {
		return
	}

	answer, sources, err := h.gen.Generate(r.Context(), msg)
	if err != nil {
		if errors.Is(err, rag.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		h.logger.Error("chat generation failed", "error", err)
		writeError(w, http.StatusBadGateway, "generation_failed", "failed to generate answer")
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{Answer: answer, Sources: sources})
}

// handleStream streams the answer as Server-Sent Events. Event names follow
// the pipeline's event types: sources, contexts, token, done, plus error.
func (h *ChatHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.parseMessage(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported by response writer")
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	for ev, err := range h.gen.GenerateStream(r.Context(), msg) {
		if err != nil {
			h.logger.Error("stream failed", "error", err)
			h.writeSSE(w, flusher, "error", "stream failed")
			return
		}
		switch ev.Type {
		case "sources":
			h.writeSSE(w, flusher, ev.Type, ev.Sources)
		case "contexts":
			h.writeSSE(w, flusher, ev.Type, ev.Contexts)
		case "token":
			h.writeSSE(w, flusher, ev.Type, ev.Token)
		case "done":
			h.writeSSE(w, flusher, ev.Type, "")
		}
	}
}

func (h *ChatHandler) writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to encode SSE payload", "event", event, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
