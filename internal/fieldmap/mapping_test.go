package fieldmap

import (
	"encoding/json"
	"testing"

	"github.com/lmeterx/stress-engine/internal/jsonpath"
)

func TestResolveOpenAIChatStreamContentPath(t *testing.T) {
	m := Resolve(FlavorOpenAIChat, true)

	var frame any
	if err := json.Unmarshal([]byte(`{"choices":[{"delta":{"content":"x"}}]}`), &frame); err != nil {
		t.Fatal(err)
	}
	v, ok := jsonpath.GetString(frame, m.ContentPathStream)
	if !ok || v != "x" {
		t.Fatalf("got (%v, %v), want (x, true)", v, ok)
	}
	if m.StopSentinel != "[DONE]" {
		t.Errorf("StopSentinel = %q, want [DONE]", m.StopSentinel)
	}
}

func TestResolveClaudeChatStopSentinelIsEndField(t *testing.T) {
	m := Resolve(FlavorClaudeChat, true)
	if m.EndField != "type" || m.EndFieldValue != "message_stop" {
		t.Errorf("got end field (%q=%q), want (type=message_stop)", m.EndField, m.EndFieldValue)
	}
}

func TestResolveEmbeddingsHasNoContentPathAndInputPrompt(t *testing.T) {
	m := Resolve(FlavorEmbeddings, false)
	if m.ContentPathNonStream != "" {
		t.Errorf("expected no content path for embeddings, got %q", m.ContentPathNonStream)
	}
	if m.PromptPath != "input" {
		t.Errorf("PromptPath = %q, want input", m.PromptPath)
	}
}

func TestResolveWithOverrideAppliesOnlyNonEmptyFields(t *testing.T) {
	override := &Override{StopSentinel: "<END>"}
	m := ResolveWithOverride(FlavorOpenAIChat, true, override)

	if m.StopSentinel != "<END>" {
		t.Errorf("StopSentinel = %q, want <END>", m.StopSentinel)
	}
	if m.ContentPathStream != "choices.0.delta.content" {
		t.Errorf("expected unoverridden field to keep default, got %q", m.ContentPathStream)
	}
}

func TestParseOverrideEmptyReturnsNil(t *testing.T) {
	o, err := ParseOverride(nil)
	if err != nil || o != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", o, err)
	}
}

func TestParseOverrideInvalidJSON(t *testing.T) {
	_, err := ParseOverride([]byte("{not json"))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestCustomFlavorStartsEmpty(t *testing.T) {
	m := Resolve(FlavorCustom, true)
	if m.ContentPathStream != "" || m.StopSentinel != "" {
		t.Fatalf("expected empty mapping for custom flavor, got %+v", m)
	}
}
