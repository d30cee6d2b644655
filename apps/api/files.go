package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mahaj/chatkit/pkg/metrics"
)

// maxUploadBytes bounds a single blob upload.
const maxUploadBytes = 25 << 20

// FilesHandler is the blob storage backing: uploads land on local disk and
// are served back under /files/<path>.
type FilesHandler struct {
	dir     string
	baseURL string
	log     zerolog.Logger
}

func NewFilesHandler(dir, baseURL string, logger zerolog.Logger) *FilesHandler {
	return &FilesHandler{dir: dir, baseURL: baseURL, log: logger}
}

// objectPath resolves the wildcard route segment to a path inside the
// storage dir, rejecting traversal.
func (h *FilesHandler) objectPath(r *http.Request) (rel, abs string, ok bool) {
	rel = chi.URLParam(r, "*")
	if unescaped, err := url.PathUnescape(rel); err == nil {
		rel = unescaped
	}
	clean := path.Clean("/" + rel)
	if clean == "/" || strings.Contains(clean, "..") {
		return "", "", false
	}
	return clean[1:], filepath.Join(h.dir, filepath.FromSlash(clean)), true
}

type uploadResponse struct {
	PublicURL string `json:"public_url"`
}

func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	rel, abs, ok := h.objectPath(r)
	if !ok {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	upsert := r.URL.Query().Get("upsert") == "true"
	if !upsert {
		if _, err := os.Stat(abs); err == nil {
			http.Error(w, "Object already exists", http.StatusConflict)
			return
		}
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	if len(data) > maxUploadBytes {
		http.Error(w, "Object too large", http.StatusRequestEntityTooLarge)
		return
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		h.log.Error().Err(err).Str("path", rel).Msg("mkdir failed")
		http.Error(w, "Storage failure", http.StatusInternalServerError)
		return
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		h.log.Error().Err(err).Str("path", rel).Msg("write failed")
		http.Error(w, "Storage failure", http.StatusInternalServerError)
		return
	}

	metrics.FilesUploaded.Inc()
	h.log.Info().Str("path", rel).Int("bytes", len(data)).Msg("blob stored")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(uploadResponse{
		PublicURL: h.baseURL + "/files/" + rel,
	})
}

func (h *FilesHandler) Serve(w http.ResponseWriter, r *http.Request) {
	_, abs, ok := h.objectPath(r)
	if !ok {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}
	http.ServeFile(w, r, abs)
}
