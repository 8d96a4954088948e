package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/ctxproxy/internal/api"
	"github.com/dgallion1/ctxproxy/internal/chunker"
	"github.com/dgallion1/ctxproxy/internal/config"
	"github.com/dgallion1/ctxproxy/internal/contextstore"
	"github.com/dgallion1/ctxproxy/internal/llm"
	"github.com/dgallion1/ctxproxy/internal/metrics"
	"github.com/dgallion1/ctxproxy/internal/source"
	"github.com/dgallion1/ctxproxy/internal/tokenizer"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The vocabulary must be usable before any request is served.
	counter, err := tokenizer.ForName(cfg.TokenEncoding)
	if err != nil {
		log.Error("tokenizer unavailable", "encoding", cfg.TokenEncoding, "error", err)
		os.Exit(1)
	}
	splitter := chunker.New(counter)
	m := metrics.New("ctxproxy")

	// Load context documents.
	store := contextstore.New(splitter, contextstore.Config{
		Paths:       cfg.ContextPaths,
		InlineText:  cfg.ContextText,
		ChunkTokens: cfg.ContextChunkTokens,
		Concurrency: cfg.LoadConcurrency,
		Source:      source.Options{PDFFallbackPdftotext: cfg.PDFFallbackPdftotext},
	}, m, log.With("component", "contextstore"))
	if err := store.Reload(ctx); err != nil {
		log.Error("load context", "error", err)
		os.Exit(1)
	}

	stats := llm.NewLLMStats(cfg.StatsWindow)
	client := llm.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.LLMTimeout, stats)

	srv, err := api.NewServer(api.Deps{
		Splitter: splitter,
		Counter:  counter,
		Store:    store,
		Chat:     client,
		Stats:    stats,
		Metrics:  m,
	}, log, cfg)
	if err != nil {
		log.Error("create server", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		client.Close()
	}()

	log.Info("starting ctxproxy",
		"port", cfg.Port,
		"model", cfg.OpenAIModel,
		"encoding", cfg.TokenEncoding,
		"context_documents", len(store.Documents()),
		"inject_context", cfg.InjectContext,
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
