package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dgallion1/ctxproxy/internal/chunker"
	"github.com/dgallion1/ctxproxy/internal/contextstore"
	"github.com/dgallion1/ctxproxy/internal/document"
	"github.com/dgallion1/ctxproxy/internal/metrics"
	"github.com/dgallion1/ctxproxy/internal/source"
)

type splitRequest struct {
	Text  string `json:"text"`
	Limit *int   `json:"limit"`
}

type splitResponse struct {
	Title     string              `json:"title,omitempty"`
	Count     int                 `json:"count"`
	Cached    bool                `json:"cached"`
	Documents []document.Document `json:"documents"`
}

// handleSplit splits JSON-submitted text. Results are cached by content
// hash and limit.
func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	var req splitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	limit := s.cfg.ContextChunkTokens
	if req.Limit != nil {
		limit = *req.Limit
	}

	key := splitCacheKey(req.Text, limit)
	if docs, ok := s.splitCache.Get(key); ok {
		writeJSON(w, http.StatusOK, splitResponse{Count: len(docs), Cached: true, Documents: docs})
		return
	}

	start := time.Now()
	docs, err := s.deps.Splitter.Split(req.Text, limit)
	s.deps.Metrics.ObserveSplit(metrics.OriginAPI, start, len(docs), err)
	if err != nil {
		s.splitError(w, err)
		return
	}
	s.splitCache.Add(key, docs)

	writeJSON(w, http.StatusOK, splitResponse{Count: len(docs), Documents: docs})
}

// handleSplitFile parses an uploaded file of any supported type and splits
// its text. The limit comes from the "limit" form field.
func (s *Server) handleSplitFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !source.IsSupportedExtension(filename) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
		return
	}

	limit := s.cfg.ContextChunkTokens
	if v := r.FormValue("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			jsonError(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	p, err := source.ForFile(filename, source.Options{PDFFallbackPdftotext: s.cfg.PDFFallbackPdftotext})
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	src, err := p.Parse(file, filename)
	if err != nil {
		s.log.Warn("parse upload failed", "filename", filename, "error", err)
		jsonError(w, "failed to parse file: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if title := r.FormValue("title"); title != "" {
		src.Title = title
	}
	src.URL = r.FormValue("source_url")

	start := time.Now()
	docs, err := s.deps.Splitter.SplitSource(src, limit)
	s.deps.Metrics.ObserveSplit(metrics.OriginAPI, start, len(docs), err)
	if err != nil {
		s.splitError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, splitResponse{Title: src.Title, Count: len(docs), Documents: docs})
}

func (s *Server) splitError(w http.ResponseWriter, err error) {
	if errors.Is(err, chunker.ErrInvalidArgument) {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.log.Error("split failed", "error", err)
	jsonError(w, "split failed", http.StatusInternalServerError)
}

func splitCacheKey(text string, limit int) string {
	return contextstore.ContentHashHex([]byte(text)) + ":" + strconv.Itoa(limit)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	// Remove any path separators that might have survived.
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
