package api

import (
	"encoding/json"
	"net/http"

	"github.com/Leptons1618/nexa/internal/log"
	"github.com/Leptons1618/nexa/internal/session"
)

// MaxTitleLength bounds a session title.
const MaxTitleLength = 200

// SessionHandler handles chat history endpoints.
type SessionHandler struct {
	store  *session.Store
	logger log.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(store *session.Store, logger log.Logger) *SessionHandler {
	return &SessionHandler{store: store, logger: logger}
}

// RegisterRoutes registers session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", h.list)
	mux.HandleFunc("POST /api/sessions", h.save)
	mux.HandleFunc("DELETE /api/sessions", h.clear)
	mux.HandleFunc("GET /api/sessions/{id}", h.get)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.delete)
}

func (h *SessionHandler) list(w http.ResponseWriter, _ *http.Request) {
	summaries, err := h.store.List()
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list sessions")
		return
	}
	if summaries == nil {
		summaries = []session.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.Get(r.PathValue("id"))
	if err != nil {
		h.logger.Error("failed to read session", "error", err)
		writeError(w, http.StatusInternalServerError, "read_failed", "failed to read session")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *SessionHandler) save(w http.ResponseWriter, r *http.Request) {
	var sess session.Session
	if err := json.NewDecoder(r.Body).Decode(&sess); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if sess.ID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "session id is required")
		return
	}
	if len(sess.Title) > MaxTitleLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "title too long")
		return
	}

	saved, err := h.store.Save(sess)
	if err != nil {
		h.logger.Error("failed to save session", "id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "save_failed", "failed to save session")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// clear deletes every stored session and reports how many were removed.
func (h *SessionHandler) clear(w http.ResponseWriter, _ *http.Request) {
	summaries, err := h.store.List()
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "clear_failed", "failed to clear sessions")
		return
	}

	deleted := 0
	for _, summary := range summaries {
		ok, err := h.store.Delete(summary.ID)
		if err != nil {
			h.logger.Error("failed to delete session", "id", summary.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "clear_failed", "failed to clear sessions")
			return
		}
		if ok {
			deleted++
		}
	}
	h.logger.Info("sessions cleared", "deleted", deleted)
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := h.store.Delete(id)
	if err != nil {
		h.logger.Error("failed to delete session", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete session")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
