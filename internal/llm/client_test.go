package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(url string) *Client {
	c := NewClient(url, "sk-test", "gpt-4o", 5*time.Second, NewLLMStats(time.Hour))
	c.backoff = func(int) time.Duration { return time.Millisecond }
	return c
}

func TestComplete_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Model != "gpt-4o" || req.Stream || len(req.Messages) != 1 {
			t.Errorf("unexpected request %+v", req)
		}
		w.Write([]byte(`{"model":"gpt-4o-2024","choices":[{"message":{"role":"assistant","content":"hi there"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	out, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Content != "hi there" || out.Model != "gpt-4o-2024" {
		t.Errorf("unexpected completion %+v", out)
	}
	if !strings.Contains(string(out.Raw), `"choices"`) {
		t.Errorf("expected raw body passthrough, got %s", out.Raw)
	}
	if snap := c.Stats.Snapshot(); snap.Count != 1 {
		t.Errorf("expected one recorded call, got %+v", snap)
	}
}

func TestComplete_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	out, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Content != "ok" || calls.Load() != 3 {
		t.Errorf("expected success on third call, got %q after %d calls", out.Content, calls.Load())
	}
	if snap := c.Stats.Snapshot(); snap.Count != 1 || snap.Errors != 2 {
		t.Errorf("unexpected stats %+v", snap)
	}
}

func TestComplete_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), Request{})
	if !IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if calls.Load() != MaxRetries {
		t.Errorf("expected %d calls, got %d", MaxRetries, calls.Load())
	}
}

func TestComplete_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), Request{})
	if err == nil || IsRetryable(err) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), Request{})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func sseHandler(frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
	}
}

func TestStream_DeliversDeltasInOrder(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"choices":[{"delta":{"role":"assistant"}}]}`,
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`[DONE]`,
		`{"choices":[{"delta":{"content":"ignored"}}]}`,
	))
	defer srv.Close()

	var got []string
	err := newTestClient(srv.URL).Stream(context.Background(), Request{}, func(d string) error {
		got = append(got, d)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if strings.Join(got, "|") != "Hel|lo" {
		t.Errorf("unexpected deltas %v", got)
	}
}

func TestStream_SendsStreamFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("expected stream=true in request")
		}
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	if err := newTestClient(srv.URL).Stream(context.Background(), Request{}, func(string) error { return nil }); err != nil {
		t.Fatalf("stream: %v", err)
	}
}

func TestStream_CallbackErrorAborts(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"choices":[{"delta":{"content":"a"}}]}`,
		`{"choices":[{"delta":{"content":"b"}}]}`,
	))
	defer srv.Close()

	stop := errors.New("client gone")
	calls := 0
	err := newTestClient(srv.URL).Stream(context.Background(), Request{}, func(string) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("expected abort after first delta, got err=%v calls=%d", err, calls)
	}
}

func TestStream_RetriesBeforeFirstDelta(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		sseHandler(`{"choices":[{"delta":{"content":"ok"}}]}`, `[DONE]`)(w, r)
	}))
	defer srv.Close()

	var got string
	err := newTestClient(srv.URL).Stream(context.Background(), Request{}, func(d string) error {
		got += d
		return nil
	})
	if err != nil || got != "ok" || calls.Load() != 2 {
		t.Fatalf("expected retry then success, got err=%v text=%q calls=%d", err, got, calls.Load())
	}
}

func TestStream_MalformedChunk(t *testing.T) {
	srv := httptest.NewServer(sseHandler(`{not json`))
	defer srv.Close()

	err := newTestClient(srv.URL).Stream(context.Background(), Request{}, func(string) error { return nil })
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestBackoffBounds(t *testing.T) {
	for attempt := range 8 {
		d := Backoff(attempt)
		base := min(time.Duration(1<<uint(attempt))*time.Second, 30*time.Second)
		if d < base || d >= base+base/2 {
			t.Errorf("attempt %d: backoff %v outside [%v, %v)", attempt, d, base, base+base/2)
		}
	}
}
