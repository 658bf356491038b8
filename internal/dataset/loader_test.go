package dataset

import (
	"testing"
)

func TestLoadJSONArrayShareGPTRoundRobin(t *testing.T) {
	// S3 — Dataset ShareGPT round-robin.
	content := []byte(`[
		{"id":"a","conversations":[{"from":"human","value":"hi"}]},
		{"id":"b","conversations":[{"from":"user","value":"yo"}]}
	]`)

	q, err := Load("", content, ChatTypeText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		r, ok := q.Next()
		if !ok {
			t.Fatalf("Next() returned ok=false on iteration %d", i)
		}
		seen[r.Prompt] = true
	}
	if !seen["hi"] || !seen["yo"] {
		t.Fatalf("expected both prompts observed across 4 draws, got %v", seen)
	}
}

func TestLoadJSONLOpenAIMessages(t *testing.T) {
	content := []byte("{\"messages\":[{\"role\":\"user\",\"content\":\"line one\"}]}\n" +
		"{\"messages\":[{\"role\":\"user\",\"content\":\"line two\"}]}\n")

	q, err := Load("", content, ChatTypeText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
}

func TestLoadTopLevelPromptString(t *testing.T) {
	content := []byte(`[{"prompt":"plain prompt"}]`)
	q, err := Load("", content, ChatTypeText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, ok := q.Next()
	if !ok || r.Prompt != "plain prompt" {
		t.Fatalf("got (%+v, %v), want plain prompt", r, ok)
	}
}

func TestLoadTopLevelPromptSingletonArray(t *testing.T) {
	content := []byte(`[{"prompt":["wrapped prompt"]}]`)
	q, err := Load("", content, ChatTypeText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, ok := q.Next()
	if !ok || r.Prompt != "wrapped prompt" {
		t.Fatalf("got (%+v, %v), want wrapped prompt", r, ok)
	}
}

func TestLoadSkipsRecordsWithNoExtractablePrompt(t *testing.T) {
	content := []byte(`[{"foo":"bar"},{"prompt":"kept"}]`)
	q, err := Load("", content, ChatTypeText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (one record should be skipped)", q.Len())
	}
}

func TestLoadImageURLIsStoredAsURL(t *testing.T) {
	content := []byte(`[{"prompt":"look","image":"https://ex/i.jpg"}]`)
	q, err := Load("", content, ChatTypeVision)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, ok := q.Next()
	if !ok {
		t.Fatal("expected a record")
	}
	if r.ImageURL != "https://ex/i.jpg" {
		t.Errorf("ImageURL = %q, want https://ex/i.jpg", r.ImageURL)
	}
	if r.ImageBase64 != "" {
		t.Errorf("expected ImageBase64 empty when URL given, got %q", r.ImageBase64)
	}
}

func TestLoadDefaultSentinelReturnsBuiltinDataset(t *testing.T) {
	q, err := Load(DefaultSentinel, nil, ChatTypeText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Len() == 0 {
		t.Fatal("expected non-empty built-in dataset")
	}
}

func TestLoadEmptyContentIsLegalEmptyQueue(t *testing.T) {
	q, err := Load("", nil, ChatTypeText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := q.Next(); ok {
		t.Fatal("expected Next() to return ok=false on empty queue")
	}
}
