package respproc

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/lmeterx/stress-engine/internal/fieldmap"
	"github.com/lmeterx/stress-engine/internal/reqbuilder"
)

type fakeSink struct {
	mu    sync.Mutex
	fired map[string]int
}

func newFakeSink() *fakeSink {
	return &fakeSink{fired: map[string]int{}}
}

func (s *fakeSink) Fire(name string, valueMs float64, contentLength int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fired[name]++
}

func (s *fakeSink) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired[name]
}

func TestProcessOpenAIChatStreamScenario(t *testing.T) {
	// S1 — OpenAI-chat streaming request/response cycle.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		frames := []string{
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			`data: {"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
			`data: [DONE]`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "%s\n\n", f)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	mapping := fieldmap.Resolve(fieldmap.FlavorOpenAIChat, true)
	sink := newFakeSink()
	body := reqbuilder.Request{JSON: map[string]any{"model": "gpt-4", "stream": true}, IsJSON: true}

	outcome := Process(context.Background(), srv.Client(), http.MethodPost, srv.URL, nil, nil, body, mapping, true, sink)

	if outcome.Failure != nil {
		t.Fatalf("unexpected failure: %+v", outcome.Failure)
	}
	if outcome.Content != "Hello" {
		t.Fatalf("Content = %q, want %q", outcome.Content, "Hello")
	}
	if outcome.PromptTokens != 5 || outcome.CompletionTokens != 2 || outcome.TotalTokens != 7 {
		t.Fatalf("tokens = %+v", outcome)
	}
	if sink.count(MetricTimeToFirstOutputToken) != 1 {
		t.Fatalf("expected Time_to_first_output_token fired once, got %d", sink.count(MetricTimeToFirstOutputToken))
	}
	if sink.count(MetricTotalTime) != 1 {
		t.Fatalf("expected Total_time fired once, got %d", sink.count(MetricTotalTime))
	}
}

func TestProcessClaudeChatNonStreamWithImageURL(t *testing.T) {
	// S5 — Claude non-stream request carrying an image URL.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"content":[{"type":"text","text":"It is a cat."}],"usage":{"input_tokens":20,"output_tokens":4}}`)
	}))
	defer srv.Close()

	mapping := fieldmap.Resolve(fieldmap.FlavorClaudeChat, false)
	sink := newFakeSink()
	body := reqbuilder.Request{JSON: map[string]any{"model": "claude-3-opus"}, IsJSON: true}

	outcome := Process(context.Background(), srv.Client(), http.MethodPost, srv.URL, nil, nil, body, mapping, false, sink)

	if outcome.Failure != nil {
		t.Fatalf("unexpected failure: %+v", outcome.Failure)
	}
	if outcome.Content != "It is a cat." {
		t.Fatalf("Content = %q", outcome.Content)
	}
	if outcome.PromptTokens != 20 || outcome.CompletionTokens != 4 {
		t.Fatalf("tokens = %+v", outcome)
	}
	if sink.count(MetricTotalTime) != 1 {
		t.Fatalf("expected Total_time fired once")
	}
}

func TestProcessHTTPErrorStatusRecordsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, "rate limited")
	}))
	defer srv.Close()

	mapping := fieldmap.Resolve(fieldmap.FlavorOpenAIChat, false)
	sink := newFakeSink()
	body := reqbuilder.Request{JSON: map[string]any{}, IsJSON: true}

	outcome := Process(context.Background(), srv.Client(), http.MethodPost, srv.URL, nil, nil, body, mapping, false, sink)

	if outcome.Failure == nil || outcome.Failure.Category != FailureHTTPStatus {
		t.Fatalf("expected FailureHTTPStatus, got %+v", outcome.Failure)
	}
	if outcome.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("StatusCode = %d", outcome.StatusCode)
	}
}

func TestProcessNonJSONChunkInStreamRecordsFailureAndKeepsEarlierContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"partial"}}]}`+"\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: not-json\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	mapping := fieldmap.Resolve(fieldmap.FlavorOpenAIChat, true)
	sink := newFakeSink()
	body := reqbuilder.Request{JSON: map[string]any{"stream": true}, IsJSON: true}

	outcome := Process(context.Background(), srv.Client(), http.MethodPost, srv.URL, nil, nil, body, mapping, true, sink)

	if outcome.Failure == nil || outcome.Failure.Category != FailureStreamFraming {
		t.Fatalf("expected FailureStreamFraming, got %+v", outcome.Failure)
	}
	if outcome.Content != "partial" {
		t.Fatalf("expected earlier content preserved, got %q", outcome.Content)
	}
}

func TestProcessConnectErrorIsClassified(t *testing.T) {
	mapping := fieldmap.Resolve(fieldmap.FlavorOpenAIChat, false)
	sink := newFakeSink()
	body := reqbuilder.Request{JSON: map[string]any{}, IsJSON: true}

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	outcome := Process(ctx, http.DefaultClient, http.MethodPost, "http://127.0.0.1:1", nil, nil, body, mapping, false, sink)
	if outcome.Failure == nil {
		t.Fatal("expected a classified failure for an unreachable/cancelled request")
	}
}
