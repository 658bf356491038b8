package jsonpath

import (
	"encoding/json"
	"testing"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("invalid JSON fixture: %v", err)
	}
	return v
}

func TestGetDottedObjectPath(t *testing.T) {
	root := decode(t, `{"choices":[{"delta":{"content":"x"}}]}`)
	v, ok := GetString(root, "choices.0.delta.content")
	if !ok || v != "x" {
		t.Fatalf("got (%v, %v), want (x, true)", v, ok)
	}
}

func TestGetNegativeArrayIndex(t *testing.T) {
	root := decode(t, `{"content":[{"text":"first"},{"text":"last"}]}`)
	v, ok := GetString(root, "content.-1.text")
	if !ok || v != "last" {
		t.Fatalf("got (%v, %v), want (last, true)", v, ok)
	}
}

func TestGetMissingPathReturnsNotOK(t *testing.T) {
	root := decode(t, `{"a":1}`)
	_, ok := Get(root, "b.c")
	if ok {
		t.Fatal("expected ok=false for missing path")
	}
}

func TestGetOutOfRangeIndex(t *testing.T) {
	root := decode(t, `{"a":[1,2]}`)
	_, ok := Get(root, "a.5")
	if ok {
		t.Fatal("expected ok=false for out-of-range index")
	}
}

func TestGetFloat64(t *testing.T) {
	root := decode(t, `{"usage":{"prompt_tokens":12}}`)
	v, ok := GetFloat64(root, "usage.prompt_tokens")
	if !ok || v != 12 {
		t.Fatalf("got (%v, %v), want (12, true)", v, ok)
	}
}

func TestSetIntoMissingArrayReturnsError(t *testing.T) {
	root := map[string]any{}
	out, err := Set(root, "messages.0.content", "hi")
	if err == nil {
		t.Fatal("expected error: messages.0 indexes into a non-existent array")
	}
	_ = out
}

func TestSetExistingArrayElement(t *testing.T) {
	root := decode(t, `{"messages":[{"role":"user","content":"old"}]}`).(map[string]any)
	out, err := Set(root, "messages.0.content", "new")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := GetString(out, "messages.0.content")
	if !ok || v != "new" {
		t.Fatalf("got (%v, %v), want (new, true)", v, ok)
	}
}

func TestSetTopLevelKey(t *testing.T) {
	root := map[string]any{}
	out, err := Set(root, "input", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := GetString(out, "input")
	if !ok || v != "hello" {
		t.Fatalf("got (%v, %v), want (hello, true)", v, ok)
	}
}
