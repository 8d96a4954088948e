// Package contextstore loads context files, splits them into documents, and
// serves them to the chat handler.
package contextstore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgallion1/ctxproxy/internal/chunker"
	"github.com/dgallion1/ctxproxy/internal/document"
	"github.com/dgallion1/ctxproxy/internal/metrics"
	"github.com/dgallion1/ctxproxy/internal/source"
	"golang.org/x/sync/errgroup"
)

// Config controls what the store loads and how it splits.
type Config struct {
	Paths       []string // Files or directories to load
	InlineText  string   // Static context loaded before any file
	ChunkTokens int      // Token limit per document
	Concurrency int      // Files parsed in parallel
	Source      source.Options
}

// Entry summarizes one loaded source.
type Entry struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Path     string    `json:"path,omitempty"`
	Chunks   int       `json:"chunks"`
	Tokens   int       `json:"tokens"`
	LoadedAt time.Time `json:"loaded_at"`

	docs []document.Document
}

// Store is a thread-safe registry of split context sources. A reload
// replaces the whole set at once; readers never see a partial load.
type Store struct {
	mu      sync.RWMutex
	entries []*Entry

	splitter *chunker.Splitter
	cfg      Config
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// New creates an empty store. Call Load to populate it.
func New(splitter *chunker.Splitter, cfg Config, m *metrics.Metrics, log *slog.Logger) *Store {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Store{
		splitter: splitter,
		cfg:      cfg,
		metrics:  m,
		log:      log,
	}
}

// Reload loads the configured paths again.
func (s *Store) Reload(ctx context.Context) error {
	return s.Load(ctx, s.cfg.Paths)
}

// Load parses and splits the inline text and every supported file under
// paths. Files that fail to parse are logged and skipped. A missing path
// or a cancelled context fails the load and leaves the previous set in
// place.
func (s *Store) Load(ctx context.Context, paths []string) error {
	files, err := collectFiles(paths)
	if err != nil {
		return err
	}

	var entries []*Entry
	if s.cfg.InlineText != "" {
		e, err := s.split(document.Source{Title: "inline", Markdown: s.cfg.InlineText})
		if err != nil {
			return fmt.Errorf("split inline context: %w", err)
		}
		entries = append(entries, e)
	}

	loaded := make([]*Entry, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			src, err := source.LoadFile(path, s.cfg.Source)
			if err != nil {
				s.log.Warn("skipping context file", "path", path, "error", err)
				return nil
			}
			e, err := s.split(src)
			if err != nil {
				s.log.Warn("skipping context file", "path", path, "error", err)
				return nil
			}
			e.Path = path
			loaded[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load context: %w", err)
	}

	total := 0
	for _, e := range loaded {
		if e != nil {
			entries = append(entries, e)
		}
	}
	for _, e := range entries {
		total += e.Chunks
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()

	s.metrics.SetContextDocuments(total)
	s.log.Info("context loaded", "sources", len(entries), "documents", total, "files", len(files))
	return nil
}

func (s *Store) split(src document.Source) (*Entry, error) {
	start := time.Now()
	docs, err := s.splitter.SplitSource(src, s.cfg.ChunkTokens)
	s.metrics.ObserveSplit(metrics.OriginContext, start, len(docs), err)
	if err != nil {
		return nil, err
	}

	tokens := 0
	for _, d := range docs {
		tokens += d.Metadata.Tokens
	}
	return &Entry{
		ID:       ContentHashHex([]byte(src.Markdown))[:16],
		Title:    src.Title,
		Chunks:   len(docs),
		Tokens:   tokens,
		LoadedAt: time.Now(),
		docs:     docs,
	}, nil
}

// Documents returns every loaded document in load order.
func (s *Store) Documents() []document.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []document.Document
	for _, e := range s.entries {
		out = append(out, e.docs...)
	}
	return out
}

// Entries returns copies of the loaded source summaries.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		c := *e
		c.docs = nil
		out = append(out, c)
	}
	return out
}

// collectFiles expands directories into their supported files, sorted by
// path. Explicitly listed files are kept regardless of extension so that
// unsupported ones surface as parse warnings.
func collectFiles(paths []string) ([]string, error) {
	seen := map[string]bool{}
	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("context path: %w", err)
		}
		if !info.IsDir() {
			if !seen[root] {
				seen[root] = true
				files = append(files, root)
			}
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !source.IsSupportedExtension(path) || seen[path] {
				return nil
			}
			seen[path] = true
			files = append(files, path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
