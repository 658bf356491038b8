// Package reqbuilder implements the Request Builder component
// (spec.md §4.4, C4): given a payload template, an optional dataset
// record, and a resolved field-mapping, it produces the per-flavor
// request body a virtual user sends on each iteration. Grounded on
// mcpdrill's internal/transport/mcp_operations.go payload-assembly
// pattern — build a mutable copy of the template, then graft the
// per-call values in rather than re-marshaling from scratch.
package reqbuilder

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lmeterx/stress-engine/internal/dataset"
	"github.com/lmeterx/stress-engine/internal/fieldmap"
	"github.com/lmeterx/stress-engine/internal/jsonpath"
)

// Request is the built payload ready to send: either a JSON object body
// or a raw-text body, never both (spec.md §4.4).
type Request struct {
	JSON    map[string]any
	Text    string
	IsJSON  bool
}

// Marshal serializes the request body as bytes suitable for an HTTP
// request.
func (r Request) Marshal() ([]byte, error) {
	if !r.IsJSON {
		return []byte(r.Text), nil
	}
	return json.Marshal(r.JSON)
}

var defaultTemplate = map[string]any{
	"messages": []any{
		map[string]any{"role": "user", "content": "Hi"},
	},
}

// Build assembles the request body for one call. template is the raw
// payload template bytes as configured on the job (may be empty). rec is
// nil when the job has no dataset (the template is sent verbatim, with
// model/stream substituted).
func Build(template []byte, rec *dataset.Record, mapping fieldmap.Mapping, flavor fieldmap.Flavor, model string, stream bool) (Request, error) {
	obj, isJSON, rawText, err := parseTemplate(template)
	if err != nil {
		return Request{}, fmt.Errorf("reqbuilder: parsing template: %w", err)
	}

	if !isJSON {
		// Raw-text template: the body is plain text, never a JSON object.
		// A record whose own prompt extraction fell back to a JSON
		// marshal still yields a string here, so there is exactly one
		// body representation per call (spec.md §4.4 "never sends both").
		if rec != nil && rec.Prompt != "" {
			return Request{Text: rec.Prompt}, nil
		}
		return Request{Text: rawText}, nil
	}

	if obj["model"] == nil && model != "" {
		obj["model"] = model
	}
	if _, present := obj["stream"]; !present {
		obj["stream"] = stream
	}

	if rec == nil {
		return Request{JSON: obj, IsJSON: true}, nil
	}

	switch flavor {
	case fieldmap.FlavorOpenAIChat:
		applyOpenAIChat(obj, rec)
	case fieldmap.FlavorClaudeChat:
		applyClaudeChat(obj, rec)
	case fieldmap.FlavorEmbeddings:
		obj["input"] = rec.Prompt
	default: // custom
		if err := applyCustom(obj, rec, mapping); err != nil {
			return Request{}, err
		}
	}

	return Request{JSON: obj, IsJSON: true}, nil
}

// parseTemplate decodes template as a JSON object. Empty input falls
// back to the built-in default chat template. Input that is present but
// does not parse as a JSON object is treated as a raw-text template.
func parseTemplate(template []byte) (obj map[string]any, isJSON bool, rawText string, err error) {
	if len(template) == 0 {
		return deepCopyObject(defaultTemplate), true, "", nil
	}

	var m map[string]any
	if err := json.Unmarshal(template, &m); err == nil {
		return m, true, "", nil
	}
	return nil, false, string(template), nil
}

func deepCopyObject(obj map[string]any) map[string]any {
	b, err := json.Marshal(obj)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// messages returns obj["messages"] as a []any, creating it if absent.
func messages(obj map[string]any) []any {
	msgs, ok := obj["messages"].([]any)
	if !ok {
		msgs = []any{}
	}
	return msgs
}

// firstUserMessageIndex returns the index of the first message with
// role "user", or -1 if none exists.
func firstUserMessageIndex(msgs []any) int {
	for i, m := range msgs {
		entry, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if role, _ := entry["role"].(string); role == "user" {
			return i
		}
	}
	return -1
}

func applyOpenAIChat(obj map[string]any, rec *dataset.Record) {
	msgs := messages(obj)

	var content any
	if rec.HasImage() {
		parts := []any{
			map[string]any{"type": "text", "text": rec.Prompt},
		}
		imgURL := rec.ImageURL
		if rec.ImageBase64 != "" {
			imgURL = rec.ImageBase64 // base64 data-URI wins over a plain URL
		}
		parts = append(parts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": imgURL},
		})
		content = parts
	} else {
		content = rec.Prompt
	}

	if idx := firstUserMessageIndex(msgs); idx >= 0 {
		entry := msgs[idx].(map[string]any)
		entry["content"] = content
		msgs[idx] = entry
	} else {
		msgs = append(msgs, map[string]any{"role": "user", "content": content})
	}
	obj["messages"] = msgs
}

func applyClaudeChat(obj map[string]any, rec *dataset.Record) {
	msgs := messages(obj)

	blocks := []any{
		map[string]any{"type": "text", "text": rec.Prompt},
	}
	if rec.ImageURL != "" {
		blocks = append(blocks, map[string]any{
			"type":   "image",
			"source": map[string]any{"type": "url", "url": rec.ImageURL},
		})
	}
	if rec.ImageBase64 != "" {
		blocks = append(blocks, map[string]any{
			"type":   "image",
			"source": map[string]any{"type": "base64", "media_type": sniffMediaType(rec.ImageBase64), "data": stripDataURIPrefix(rec.ImageBase64)},
		})
	}

	if idx := firstUserMessageIndex(msgs); idx >= 0 {
		entry := msgs[idx].(map[string]any)
		entry["content"] = blocks
		msgs[idx] = entry
	} else {
		msgs = append(msgs, map[string]any{"role": "user", "content": blocks})
	}
	obj["messages"] = msgs
}

func applyCustom(obj map[string]any, rec *dataset.Record, mapping fieldmap.Mapping) error {
	if mapping.PromptPath != "" {
		updated, err := jsonpath.Set(obj, mapping.PromptPath, rec.Prompt)
		if err != nil {
			return fmt.Errorf("reqbuilder: setting prompt path %q: %w", mapping.PromptPath, err)
		}
		obj = updated.(map[string]any)
	}
	if mapping.ImagePath != "" && rec.HasImage() {
		img := rec.ImageBase64
		if img == "" {
			img = rec.ImageURL
		}
		updated, err := jsonpath.Set(obj, mapping.ImagePath, img)
		if err != nil {
			return fmt.Errorf("reqbuilder: setting image path %q: %w", mapping.ImagePath, err)
		}
		obj = updated.(map[string]any)
	}
	return nil
}

// sniffMediaType extracts the MIME type from a data-URI, defaulting to
// JPEG when the string carries no recognizable prefix.
func sniffMediaType(dataURI string) string {
	if !strings.HasPrefix(dataURI, "data:") {
		return "image/jpeg"
	}
	rest := strings.TrimPrefix(dataURI, "data:")
	if semi := strings.Index(rest, ";"); semi >= 0 {
		return rest[:semi]
	}
	return "image/jpeg"
}

func stripDataURIPrefix(dataURI string) string {
	if idx := strings.Index(dataURI, ","); idx >= 0 && strings.HasPrefix(dataURI, "data:") {
		return dataURI[idx+1:]
	}
	return dataURI
}
