package mockserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"
)

func startTestServer(t *testing.T, behavior BehaviorProfile) Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Behavior = behavior
	srv := New(cfg)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv
}

func TestOpenAINonStream(t *testing.T) {
	srv := startTestServer(t, BehaviorProfile{ReplyText: "Hello", PromptTokens: 3, CompletionTokens: 2})

	resp, err := http.Post(srv.OpenAIURL(), "application/json", strings.NewReader(`{"stream":false}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	choices := body["choices"].([]any)
	msg := choices[0].(map[string]any)["message"].(map[string]any)
	if msg["content"] != "Hello" {
		t.Fatalf("content = %v, want Hello", msg["content"])
	}
}

func TestOpenAIStreamEndsWithDoneSentinel(t *testing.T) {
	srv := startTestServer(t, BehaviorProfile{ReplyText: "Hello there", ChunkCount: 2})

	resp, err := http.Post(srv.OpenAIURL(), "application/json", strings.NewReader(`{"stream":true}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	var lastData string
	contentChunks := 0
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			lastData = payload
			break
		}
		if strings.Contains(payload, `"content"`) {
			contentChunks++
		}
	}
	if lastData != "[DONE]" {
		t.Fatalf("stream did not end with [DONE] sentinel")
	}
	if contentChunks == 0 {
		t.Fatalf("expected at least one content delta frame")
	}
}

func TestClaudeNonStreamLastContentBlockText(t *testing.T) {
	srv := startTestServer(t, BehaviorProfile{ReplyText: "hi", PromptTokens: 4, CompletionTokens: 1})

	resp, err := http.Post(srv.ClaudeURL(), "application/json", strings.NewReader(`{"stream":false}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	content := body["content"].([]any)
	last := content[len(content)-1].(map[string]any)
	if last["text"] != "hi" {
		t.Fatalf("text = %v, want hi", last["text"])
	}
}

func TestClaudeStreamEndsWithMessageStop(t *testing.T) {
	srv := startTestServer(t, BehaviorProfile{ReplyText: "ok", ChunkCount: 1})

	resp, err := http.Post(srv.ClaudeURL(), "application/json", strings.NewReader(`{"stream":true}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	sawStop := false
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		if strings.Contains(line, `"type":"message_stop"`) {
			sawStop = true
		}
	}
	if !sawStop {
		t.Fatalf("stream never emitted a message_stop frame")
	}
}

func TestInjectedProviderErrorNonStream(t *testing.T) {
	srv := startTestServer(t, BehaviorProfile{InjectProviderError: true})

	resp, err := http.Post(srv.OpenAIURL(), "application/json", strings.NewReader(`{"stream":false}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] == nil {
		t.Fatalf("expected a top-level error object")
	}
}

func TestInjectedHTTPStatus(t *testing.T) {
	srv := startTestServer(t, BehaviorProfile{InjectHTTPStatus: http.StatusInternalServerError})

	resp, err := http.Post(srv.OpenAIURL(), "application/json", strings.NewReader(`{"stream":false}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestSetBehaviorTakesEffectImmediately(t *testing.T) {
	srv := startTestServer(t, BehaviorProfile{ReplyText: "first"})
	srv.SetBehavior(BehaviorProfile{ReplyText: "second"})

	resp, err := http.Post(srv.OpenAIURL(), "application/json", strings.NewReader(`{"stream":false}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	choices := body["choices"].([]any)
	msg := choices[0].(map[string]any)["message"].(map[string]any)
	if msg["content"] != "second" {
		t.Fatalf("content = %v, want second (behavior swap should apply)", msg["content"])
	}
}
