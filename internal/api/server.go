package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dgallion1/ctxproxy/internal/chunker"
	"github.com/dgallion1/ctxproxy/internal/config"
	"github.com/dgallion1/ctxproxy/internal/contextstore"
	"github.com/dgallion1/ctxproxy/internal/document"
	"github.com/dgallion1/ctxproxy/internal/llm"
	"github.com/dgallion1/ctxproxy/internal/metrics"
	"github.com/dgallion1/ctxproxy/internal/tokenizer"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ChatClient is the upstream the chat endpoint forwards to.
type ChatClient interface {
	Model() string
	Complete(ctx context.Context, req llm.Request) (*llm.Completion, error)
	Stream(ctx context.Context, req llm.Request, fn func(delta string) error) error
}

// Deps holds the components the server routes to.
type Deps struct {
	Splitter *chunker.Splitter
	Counter  tokenizer.Counter
	Store    *contextstore.Store
	Chat     ChatClient
	Stats    *llm.LLMStats
	Metrics  *metrics.Metrics
}

// Server is the HTTP API server for ctxproxy.
type Server struct {
	router     chi.Router
	deps       Deps
	splitCache *lru.Cache[string, []document.Document]
	log        *slog.Logger
	cfg        config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(deps Deps, log *slog.Logger, cfg config.Config) (*Server, error) {
	cache, err := lru.New[string, []document.Document](cfg.SplitCacheSize)
	if err != nil {
		return nil, fmt.Errorf("split cache: %w", err)
	}
	s := &Server{
		deps:       deps,
		splitCache: cache,
		log:        log,
		cfg:        cfg,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))
	r.Use(MetricsMiddleware(s.deps.Metrics))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())

	// API endpoints, authenticated when an API key is configured.
	r.Group(func(r chi.Router) {
		if s.cfg.APIKey != "" {
			r.Use(AuthMiddleware(s.cfg.APIKey, s.log))
		}

		r.Post("/api/chat", s.handleChat)

		r.Post("/api/split", s.handleSplit)
		r.Post("/api/split/file", s.handleSplitFile)

		r.Get("/api/context", s.handleListContext)
		r.Post("/api/context/reload", s.handleReloadContext)

		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
