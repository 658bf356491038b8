package reqbuilder

import (
	"encoding/json"
	"testing"

	"github.com/lmeterx/stress-engine/internal/dataset"
	"github.com/lmeterx/stress-engine/internal/fieldmap"
)

func decodeJSON(t *testing.T, req Request) map[string]any {
	t.Helper()
	b, err := req.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		t.Fatalf("unmarshal built body: %v (body=%s)", err, b)
	}
	return obj
}

func TestBuildOpenAIChatTextOnlyReplacesFirstUserMessage(t *testing.T) {
	template := []byte(`{"model":"gpt-4","messages":[{"role":"system","content":"sys"},{"role":"user","content":"placeholder"}],"temperature":0.7}`)
	rec := &dataset.Record{ID: "1", Prompt: "hello there"}

	req, err := Build(template, rec, fieldmap.Mapping{}, fieldmap.FlavorOpenAIChat, "gpt-4", false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	obj := decodeJSON(t, req)

	msgs := obj["messages"].([]any)
	user := msgs[1].(map[string]any)
	if user["content"] != "hello there" {
		t.Fatalf("content = %v, want %q", user["content"], "hello there")
	}
	if obj["temperature"].(float64) != 0.7 {
		t.Fatalf("temperature was not preserved: %v", obj["temperature"])
	}
}

func TestBuildOpenAIChatImageBase64WinsOverURL(t *testing.T) {
	// S5-equivalent scenario for the openai-chat flavor.
	template := []byte(`{"messages":[{"role":"user","content":"x"}]}`)
	rec := &dataset.Record{
		ID:          "1",
		Prompt:      "describe",
		ImageURL:    "https://example.com/a.jpg",
		ImageBase64: "data:image/jpeg;base64,Zm9v",
	}

	req, err := Build(template, rec, fieldmap.Mapping{}, fieldmap.FlavorOpenAIChat, "gpt-4o", false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	obj := decodeJSON(t, req)

	msgs := obj["messages"].([]any)
	user := msgs[0].(map[string]any)
	parts := user["content"].([]any)
	if len(parts) != 2 {
		t.Fatalf("expected 2 content parts, got %d", len(parts))
	}
	imgPart := parts[1].(map[string]any)
	imgURL := imgPart["image_url"].(map[string]any)["url"].(string)
	if imgURL != rec.ImageBase64 {
		t.Fatalf("image_url.url = %q, want base64 data-URI to win over plain URL", imgURL)
	}
}

func TestBuildOpenAIChatAppendsUserMessageWhenNoneExists(t *testing.T) {
	template := []byte(`{"messages":[{"role":"system","content":"sys"}]}`)
	rec := &dataset.Record{ID: "1", Prompt: "new question"}

	req, err := Build(template, rec, fieldmap.Mapping{}, fieldmap.FlavorOpenAIChat, "gpt-4", false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	obj := decodeJSON(t, req)
	msgs := obj["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected message appended, got %d messages", len(msgs))
	}
	last := msgs[1].(map[string]any)
	if last["role"] != "user" || last["content"] != "new question" {
		t.Fatalf("appended message = %v", last)
	}
}

func TestBuildClaudeChatBothImageSourcesProduceIndependentBlocks(t *testing.T) {
	template := []byte(`{"messages":[{"role":"user","content":"placeholder"}]}`)
	rec := &dataset.Record{
		ID:          "1",
		Prompt:      "what is this",
		ImageURL:    "https://example.com/a.jpg",
		ImageBase64: "data:image/png;base64,Zm9v",
	}

	req, err := Build(template, rec, fieldmap.Mapping{}, fieldmap.FlavorClaudeChat, "claude-3-opus", false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	obj := decodeJSON(t, req)
	msgs := obj["messages"].([]any)
	blocks := msgs[0].(map[string]any)["content"].([]any)
	if len(blocks) != 3 {
		t.Fatalf("expected text + url block + base64 block = 3, got %d", len(blocks))
	}
	urlBlock := blocks[1].(map[string]any)["source"].(map[string]any)
	if urlBlock["type"] != "url" {
		t.Fatalf("block 1 should be the url source, got %v", urlBlock)
	}
	b64Block := blocks[2].(map[string]any)["source"].(map[string]any)
	if b64Block["type"] != "base64" || b64Block["media_type"] != "image/png" {
		t.Fatalf("block 2 should be the base64 source with sniffed media type, got %v", b64Block)
	}
}

func TestBuildEmbeddingsSetsInputOnly(t *testing.T) {
	template := []byte(`{"model":"text-embedding-3-small","encoding_format":"float"}`)
	rec := &dataset.Record{ID: "1", Prompt: "embed this"}

	req, err := Build(template, rec, fieldmap.Mapping{}, fieldmap.FlavorEmbeddings, "text-embedding-3-small", false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	obj := decodeJSON(t, req)
	if obj["input"] != "embed this" {
		t.Fatalf("input = %v", obj["input"])
	}
	if obj["encoding_format"] != "float" {
		t.Fatalf("non-targeted field not preserved: %v", obj["encoding_format"])
	}
}

func TestBuildCustomFlavorUsesMappingPaths(t *testing.T) {
	template := []byte(`{"query":{"text":""}}`)
	rec := &dataset.Record{ID: "1", Prompt: "custom prompt", ImageURL: "https://example.com/a.jpg"}
	mapping := fieldmap.Mapping{PromptPath: "query.text", ImagePath: "query.image"}

	req, err := Build(template, rec, mapping, fieldmap.FlavorCustom, "", false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	obj := decodeJSON(t, req)
	query := obj["query"].(map[string]any)
	if query["text"] != "custom prompt" {
		t.Fatalf("query.text = %v", query["text"])
	}
	if query["image"] != rec.ImageURL {
		t.Fatalf("query.image = %v", query["image"])
	}
}

func TestBuildEmptyTemplateUsesDefaultChatShape(t *testing.T) {
	rec := &dataset.Record{ID: "1", Prompt: "default path"}
	req, err := Build(nil, rec, fieldmap.Mapping{}, fieldmap.FlavorOpenAIChat, "gpt-4", true)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	obj := decodeJSON(t, req)
	if obj["model"] != "gpt-4" || obj["stream"] != true {
		t.Fatalf("defaults not substituted: %v", obj)
	}
}

func TestBuildRawTextTemplateNeverProducesJSONBody(t *testing.T) {
	rec := &dataset.Record{ID: "1", Prompt: "plain text prompt"}
	req, err := Build([]byte("not-json-at-all"), rec, fieldmap.Mapping{}, fieldmap.FlavorCustom, "", false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if req.IsJSON {
		t.Fatal("expected a raw-text body, got IsJSON=true")
	}
	if req.Text != rec.Prompt {
		t.Fatalf("Text = %q, want record prompt %q", req.Text, rec.Prompt)
	}
}

func TestBuildNilRecordSendsTemplateVerbatimWithSubstitutions(t *testing.T) {
	template := []byte(`{"messages":[{"role":"user","content":"static"}]}`)
	req, err := Build(template, nil, fieldmap.Mapping{}, fieldmap.FlavorOpenAIChat, "gpt-4", false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	obj := decodeJSON(t, req)
	msgs := obj["messages"].([]any)
	if msgs[0].(map[string]any)["content"] != "static" {
		t.Fatalf("template should be untouched when there is no dataset record: %v", obj)
	}
	if obj["model"] != "gpt-4" {
		t.Fatalf("model substitution should still apply: %v", obj)
	}
}
