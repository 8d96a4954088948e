package api

import (
	"net/http"

	"github.com/dgallion1/ctxproxy/internal/contextstore"
)

type contextResponse struct {
	Sources   []contextstore.Entry `json:"sources"`
	Documents int                  `json:"documents"`
	Tokens    int                  `json:"tokens"`
}

// handleListContext lists the sources loaded for context injection.
func (s *Server) handleListContext(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		jsonError(w, "context store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.contextSummary())
}

// handleReloadContext re-reads the configured context paths.
func (s *Server) handleReloadContext(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		jsonError(w, "context store unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := s.deps.Store.Reload(r.Context()); err != nil {
		s.log.Error("context reload failed", "error", err)
		jsonError(w, "reload failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.contextSummary())
}

func (s *Server) contextSummary() contextResponse {
	entries := s.deps.Store.Entries()
	resp := contextResponse{Sources: entries}
	for _, e := range entries {
		resp.Documents += e.Chunks
		resp.Tokens += e.Tokens
	}
	return resp
}
