package dataset

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DefaultSentinel is the caller-supplied path value that selects a
// built-in dataset keyed by chat-type instead of reading a file
// (spec.md §4.2).
const DefaultSentinel = "default"

// ChatType selects which built-in dataset Load uses when path is the
// DefaultSentinel (spec.md §3: 0=text, 1=image+text, 2=vision).
type ChatType int

const (
	ChatTypeText  ChatType = 0
	ChatTypeImage ChatType = 1
	ChatTypeVision ChatType = 2
)

// wellKnownImageRoots are searched, in order, to resolve a relative
// image_path entry to a file on disk (spec.md §4.2 "resolved relative to
// well-known roots").
var wellKnownImageRoots = []string{
	"/data/datasets/images",
	"/app/data/images",
	".",
}

// Load parses dataset content (a JSONL blob or a JSON-array blob) or, if
// path equals DefaultSentinel, returns a small built-in dataset selected by
// chatType. It returns a round-robin Queue; records with no extractable
// prompt are skipped silently.
func Load(pathOrInline string, inlineContent []byte, chatType ChatType) (*Queue, error) {
	if pathOrInline == DefaultSentinel {
		return NewQueue(builtinDataset(chatType)), nil
	}

	content := inlineContent
	if len(content) == 0 && pathOrInline != "" {
		data, err := os.ReadFile(pathOrInline)
		if err != nil {
			return nil, fmt.Errorf("dataset: reading %q: %w", pathOrInline, err)
		}
		content = data
	}
	if len(content) == 0 {
		return NewQueue(nil), nil
	}

	objs, err := parseObjects(content)
	if err != nil {
		return nil, fmt.Errorf("dataset: parsing content: %w", err)
	}

	records := make([]Record, 0, len(objs))
	for _, obj := range objs {
		if rec, ok := extractRecord(obj); ok {
			records = append(records, rec)
		}
	}
	return NewQueue(records), nil
}

// parseObjects accepts either a JSON array of objects or one JSON object
// per line (JSONL), first non-empty wins by trying array decoding before
// falling back to line-by-line.
func parseObjects(content []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var arr []map[string]any
		if err := json.Unmarshal(trimmed, &arr); err == nil {
			return arr, nil
		}
	}

	var objs []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue // skip malformed lines rather than failing the whole load
		}
		objs = append(objs, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return objs, nil
}

// extractRecord applies the first-non-empty-wins precedence from
// spec.md §4.2: top-level "prompt", then ShareGPT "conversations", then
// OpenAI "messages". It also extracts an optional image reference.
func extractRecord(obj map[string]any) (Record, bool) {
	prompt, raw, ok := extractPrompt(obj)
	if !ok {
		return Record{}, false
	}

	rec := Record{ID: recordID(obj), Prompt: prompt, PromptIsRaw: raw}
	if url, b64, ok := extractImage(obj); ok {
		rec.ImageURL = url
		rec.ImageBase64 = b64
	}
	return rec, true
}

func recordID(obj map[string]any) string {
	if id, ok := obj["id"].(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// extractPrompt returns the prompt text, whether it came from a
// JSON-marshal fallback (raw=true, for non-string "prompt" shapes the
// request builder must not treat as a plain-text message), and whether a
// prompt was found at all.
func extractPrompt(obj map[string]any) (prompt string, raw bool, ok bool) {
	if v, ok := obj["prompt"]; ok {
		if s, ok := stringOrSingletonArray(v); ok {
			return s, false, true
		}
		if b, err := json.Marshal(v); err == nil {
			return string(b), true, true
		}
	}

	if conv, ok := obj["conversations"].([]any); ok {
		for _, entry := range conv {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			role, _ := m["from"].(string)
			if role == "" {
				role, _ = m["role"].(string)
			}
			if role == "human" || role == "user" {
				if v, ok := m["value"].(string); ok && v != "" {
					return v, false, true
				}
				if v, ok := m["content"].(string); ok && v != "" {
					return v, false, true
				}
			}
		}
	}

	if msgs, ok := obj["messages"].([]any); ok {
		for _, entry := range msgs {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			role, _ := m["role"].(string)
			if role == "user" || role == "human" {
				if v, ok := m["content"].(string); ok && v != "" {
					return v, false, true
				}
			}
		}
	}

	return "", false, false
}

// stringOrSingletonArray handles the "prompt" field shape: a bare string
// or a one-element array of string.
func stringOrSingletonArray(v any) (string, bool) {
	if s, ok := v.(string); ok {
		return s, true
	}
	if arr, ok := v.([]any); ok && len(arr) == 1 {
		if s, ok := arr[0].(string); ok {
			return s, true
		}
	}
	return "", false
}

// extractImage implements spec.md §4.2 image extraction: "image" then
// "image_path"; an http(s) value is stored as a URL, otherwise it is
// resolved against well-known roots and base64-encoded.
func extractImage(obj map[string]any) (url, base64Data string, ok bool) {
	raw, present := obj["image"]
	if !present {
		raw, present = obj["image_path"]
	}
	if !present {
		return "", "", false
	}

	value, valueOK := stringOrSingletonArray(raw)
	if !valueOK {
		return "", "", false
	}

	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		return value, "", true
	}

	data, err := resolveAndEncodeImage(value)
	if err != nil {
		return "", "", false
	}
	return "", data, true
}

func resolveAndEncodeImage(path string) (string, error) {
	if filepath.IsAbs(path) {
		if data, err := os.ReadFile(path); err == nil {
			return encodeDataURI(path, data), nil
		}
	}
	for _, root := range wellKnownImageRoots {
		full := filepath.Join(root, path)
		data, err := os.ReadFile(full)
		if err == nil {
			return encodeDataURI(full, data), nil
		}
	}
	return "", fmt.Errorf("dataset: could not resolve image path %q", path)
}

func encodeDataURI(path string, data []byte) string {
	mime := "image/jpeg"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		mime = "image/png"
	case ".gif":
		mime = "image/gif"
	case ".webp":
		mime = "image/webp"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
}

// builtinDataset returns a small in-memory dataset for the "default"
// sentinel, varying by chat-type.
func builtinDataset(chatType ChatType) []Record {
	switch chatType {
	case ChatTypeImage, ChatTypeVision:
		return []Record{
			{ID: uuid.NewString(), Prompt: "Describe this image.", ImageURL: "https://example.com/sample.jpg"},
		}
	default:
		return []Record{
			{ID: uuid.NewString(), Prompt: "Hello, how are you today?"},
			{ID: uuid.NewString(), Prompt: "What is the capital of France?"},
			{ID: uuid.NewString(), Prompt: "Write a short poem about the sea."},
		}
	}
}
