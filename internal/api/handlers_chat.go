package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dgallion1/ctxproxy/internal/llm"
)

const (
	modeComplete = "complete"
	modeStream   = "stream"
)

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
}

// chatFrame is one NDJSON line of a streamed answer.
type chatFrame struct {
	Model     string       `json:"model"`
	CreatedAt string       `json:"created_at"`
	Message   frameMessage `json:"message"`
	Done      bool         `json:"done"`
}

type frameMessage struct {
	Content string `json:"content"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		jsonError(w, "messages is required", http.StatusBadRequest)
		return
	}

	messages := req.Messages
	if s.cfg.InjectContext && s.deps.Store != nil {
		sys := llm.BuildSystemMessage(s.deps.Store.Documents(), s.cfg.ContextBudgetTokens, s.deps.Counter)
		messages = llm.InjectSystemMessage(messages, sys)
	}

	upstream := llm.Request{Model: req.Model, Messages: messages}
	if upstream.Model == "" {
		upstream.Model = s.deps.Chat.Model()
	}

	if req.Stream {
		s.streamChat(w, r, upstream)
		return
	}

	start := time.Now()
	out, err := s.deps.Chat.Complete(r.Context(), upstream)
	s.deps.Metrics.ObserveUpstream(modeComplete, start, err)
	if err != nil {
		s.log.Error("upstream chat failed", "model", upstream.Model, "error", err)
		jsonError(w, "upstream request failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(out.Raw)
}

// streamChat relays upstream deltas as NDJSON frames. The response status
// is committed with the first delta, so a failure before it is still
// reported as a 500.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, upstream llm.Request) {
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	enc := json.NewEncoder(w)

	started := false
	begin := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
	}
	write := func(content string, done bool) error {
		begin()
		err := enc.Encode(chatFrame{
			Model:     upstream.Model,
			CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
			Message:   frameMessage{Content: content},
			Done:      done,
		})
		if err != nil {
			return err
		}
		return rc.Flush()
	}

	start := time.Now()
	err := s.deps.Chat.Stream(r.Context(), upstream, func(delta string) error {
		return write(delta, false)
	})
	s.deps.Metrics.ObserveUpstream(modeStream, start, err)
	if err != nil {
		s.log.Error("upstream stream failed", "model", upstream.Model, "started", started, "error", err)
		if !started {
			jsonError(w, "upstream request failed", http.StatusInternalServerError)
		}
		return
	}
	if err := write("", true); err != nil {
		s.log.Warn("write final frame", "error", err)
	}
}
