package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Leptons1618/nexa/internal/document"
	"github.com/Leptons1618/nexa/internal/log"
)

// MaxUploadSize bounds a single uploaded file.
const MaxUploadSize = 50 << 20 // 50 MB

// IngestHandler handles document indexing endpoints.
type IngestHandler struct {
	ingester  Ingester
	uploadDir string
	logger    log.Logger
}

// NewIngestHandler creates a new ingest handler. Uploads are stored under
// dataDir/uploads.
func NewIngestHandler(ing Ingester, dataDir string, logger log.Logger) *IngestHandler {
	return &IngestHandler{
		ingester:  ing,
		uploadDir: filepath.Join(dataDir, "uploads"),
		logger:    logger,
	}
}

// RegisterRoutes registers ingest routes on the given mux.
func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ingest", h.handleIngest)
	mux.HandleFunc("POST /api/upload", h.handleUpload)
	mux.HandleFunc("GET /api/uploads", h.listUploads)
	mux.HandleFunc("DELETE /api/uploads/{name}", h.deleteUpload)
}

// IngestRequest is the request body for path-based ingestion.
type IngestRequest struct {
	Paths   []string `json:"paths"`
	Tags    []string `json:"tags,omitempty"`
	Version string   `json:"version,omitempty"`
}

// IngestResponse reports how many chunks were indexed.
type IngestResponse struct {
	ChunksIndexed int `json:"chunks_indexed"`
}

func (h *IngestHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "paths cannot be empty")
		return
	}

	count, err := h.ingester.Ingest(r.Context(), req.Paths, req.Tags, req.Version)
	if err != nil {
		h.logger.Error("ingestion failed", "error", err)
		writeError(w, http.StatusBadGateway, "ingestion_failed", "failed to ingest documents")
		return
	}

	writeJSON(w, http.StatusOK, IngestResponse{ChunksIndexed: count})
}

// UploadedFile describes one stored upload.
type UploadedFile struct {
	OriginalName string `json:"original_name"`
	SavedPath    string `json:"saved_path"`
	Size         int64  `json:"size"`
}

// UploadResponse reports stored files and indexing results.
type UploadResponse struct {
	Files         []UploadedFile `json:"files"`
	ChunksIndexed int            `json:"chunks_indexed"`
}

// handleUpload stores multipart files under the upload directory and ingests
// them immediately. Optional form fields: tags (comma-separated), version.
func (h *IngestHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid multipart form")
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "no files provided")
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		h.logger.Error("failed to create upload dir", "error", err)
		writeError(w, http.StatusInternalServerError, "upload_failed", "failed to store files")
		return
	}

	var savedPaths []string
	var infos []UploadedFile
	for _, header := range files {
		if !document.Supported(header.Filename) {
			writeError(w, http.StatusBadRequest, "invalid_request",
				fmt.Sprintf("unsupported file type: %s", header.Filename))
			return
		}
		if header.Size > MaxUploadSize {
			writeError(w, http.StatusBadRequest, "invalid_request",
				fmt.Sprintf("file too large (max 50 MB): %s", header.Filename))
			return
		}

		dest, size, err := h.saveUpload(header.Filename, header)
		if err != nil {
			h.logger.Error("failed to store upload", "file", header.Filename, "error", err)
			writeError(w, http.StatusInternalServerError, "upload_failed", "failed to store files")
			return
		}
		savedPaths = append(savedPaths, dest)
		infos = append(infos, UploadedFile{
			OriginalName: header.Filename,
			SavedPath:    dest,
			Size:         size,
		})
		h.logger.Info("file uploaded", "name", header.Filename, "path", dest, "bytes", size)
	}

	tags := splitTags(r.FormValue("tags"))
	version := strings.TrimSpace(r.FormValue("version"))

	count, err := h.ingester.Ingest(r.Context(), savedPaths, tags, version)
	if err != nil {
		h.logger.Error("ingestion failed", "error", err)
		writeError(w, http.StatusBadGateway, "ingestion_failed", "failed to ingest uploaded files")
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{Files: infos, ChunksIndexed: count})
}

// StoredUpload describes one file in the upload directory.
type StoredUpload struct {
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

func (h *IngestHandler) listUploads(w http.ResponseWriter, _ *http.Request) {
	entries, err := os.ReadDir(h.uploadDir)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, map[string]any{"uploads": []StoredUpload{}})
			return
		}
		h.logger.Error("failed to read upload dir", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list uploads")
		return
	}

	uploads := make([]StoredUpload, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		uploads = append(uploads, StoredUpload{
			Name:       entry.Name(),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": uploads})
}

// deleteUpload removes one stored file. Deleting an upload does not touch
// the index; chunks already ingested from it stay searchable until the index
// is cleared.
func (h *IngestHandler) deleteUpload(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(r.PathValue("name"))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid file name")
		return
	}

	path := filepath.Join(h.uploadDir, name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "not_found", "upload not found")
			return
		}
		h.logger.Error("failed to delete upload", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete upload")
		return
	}
	h.logger.Info("upload deleted", "name", name)
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *IngestHandler) saveUpload(name string, header *multipart.FileHeader) (string, int64, error) {
	src, err := header.Open()
	if err != nil {
		return "", 0, err
	}
	defer src.Close()

	// Prefix with a short random id to avoid collisions and strip any path
	// components a client might smuggle in.
	safe := uuid.NewString()[:8] + "_" + filepath.Base(name)
	dest := filepath.Join(h.uploadDir, safe)

	out, err := os.Create(dest)
	if err != nil {
		return "", 0, err
	}
	defer out.Close()

	size, err := io.Copy(out, io.LimitReader(src, MaxUploadSize))
	if err != nil {
		return "", 0, err
	}
	return dest, size, nil
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
