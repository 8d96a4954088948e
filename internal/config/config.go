package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultContext is the built-in context text used when CONTEXT_TEXT is unset.
const DefaultContext = "Alice app is an interface for communicating with large language models, which you can connect directly to OpenAI/Anthropic/Groq/Ollama or your own server."

type Config struct {
	Port string

	// Upstream chat completions
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	LLMTimeout    time.Duration

	// Auth; empty disables bearer auth on /api routes
	APIKey string

	// Tokenizer
	TokenEncoding string

	// Context injection
	InjectContext       bool
	ContextText         string
	ContextPaths        []string
	ContextChunkTokens  int
	ContextBudgetTokens int
	LoadConcurrency     int

	// Request limits
	MaxBodyBytes int64

	// Split endpoint cache entries
	SplitCacheSize int

	// Rolling window for LLM latency stats
	StatsWindow time.Duration

	// PDF
	PDFFallbackPdftotext bool
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "3005"),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: envOr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:   envOr("OPENAI_MODEL", "gpt-4o"),
		LLMTimeout:    envDuration("LLM_TIMEOUT", 120*time.Second),

		APIKey: os.Getenv("CTXPROXY_API_KEY"),

		TokenEncoding: envOr("TOKEN_ENCODING", "cl100k_base"),

		InjectContext:       envBool("INJECT_CONTEXT", true),
		ContextText:         envOr("CONTEXT_TEXT", DefaultContext),
		ContextPaths:        envList("CONTEXT_PATHS"),
		ContextChunkTokens:  envInt("CONTEXT_CHUNK_TOKENS", 3500),
		ContextBudgetTokens: envInt("CONTEXT_BUDGET_TOKENS", 12000),
		LoadConcurrency:     envInt("LOAD_CONCURRENCY", 4),

		MaxBodyBytes: envInt64("MAX_BODY_BYTES", 10485760), // 10MB

		SplitCacheSize: envInt("SPLIT_CACHE_SIZE", 256),

		StatsWindow: envDuration("STATS_WINDOW", 1*time.Hour),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
	}

	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 120 * time.Second
	}
	if cfg.ContextChunkTokens <= 0 {
		cfg.ContextChunkTokens = 3500
	}
	if cfg.ContextBudgetTokens < 0 {
		cfg.ContextBudgetTokens = 0
	}
	if cfg.LoadConcurrency <= 0 {
		cfg.LoadConcurrency = 4
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10485760
	}
	if cfg.SplitCacheSize <= 0 {
		cfg.SplitCacheSize = 256
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = 1 * time.Hour
	}

	return cfg
}

func (c Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.TokenEncoding == "" {
		return fmt.Errorf("TOKEN_ENCODING must not be empty")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList splits a comma-separated value, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
