// Package fieldmap resolves the Field-Mapping Resolver component
// (spec.md §4.3, C3): given an API flavor tag and stream mode, it yields a
// mapping from semantic fields (content, reasoning, prompt/completion
// tokens, ...) to dotted JSON paths understood by internal/jsonpath, plus
// a stream framing descriptor.
package fieldmap

import "encoding/json"

// Flavor identifies the request/response shape a job targets.
type Flavor string

const (
	FlavorOpenAIChat  Flavor = "openai-chat"
	FlavorClaudeChat  Flavor = "claude-chat"
	FlavorEmbeddings  Flavor = "embeddings"
	FlavorCustom      Flavor = "custom"
)

// Mapping is the resolved set of dotted JSON paths and stream-framing
// descriptors for one (flavor, stream) combination.
type Mapping struct {
	Flavor Flavor

	// Stream framing.
	StreamPrefix  string // e.g. "data:"; lines not matching any control
	StopSentinel  string // payload that signals clean end-of-stream, e.g. "[DONE]"
	EndField      string // dotted path; when resolved value matches EndFieldValue, stream ends cleanly
	EndFieldValue string

	// Content/usage extraction paths.
	ContentPathStream    string
	ContentPathNonStream string
	ReasoningPathStream  string
	ReasoningPathNonStream string

	PromptTokensPath     string
	CompletionTokensPath string
	TotalTokensPath      string

	// Request-builder paths (used only by the custom flavor; spec.md §4.4).
	PromptPath string
	ImagePath  string
}

// Override carries user-supplied JSON overrides for any subset of Mapping
// fields (spec.md §4.3 "Users may override any field with a JSON mapping").
type Override struct {
	StreamPrefix  string `json:"stream_prefix,omitempty"`
	StopSentinel  string `json:"stop_sentinel,omitempty"`
	EndField      string `json:"end_field,omitempty"`
	EndFieldValue string `json:"end_field_value,omitempty"`

	ContentPathStream      string `json:"content_path_stream,omitempty"`
	ContentPathNonStream   string `json:"content_path_non_stream,omitempty"`
	ReasoningPathStream    string `json:"reasoning_path_stream,omitempty"`
	ReasoningPathNonStream string `json:"reasoning_path_non_stream,omitempty"`

	PromptTokensPath     string `json:"prompt_tokens_path,omitempty"`
	CompletionTokensPath string `json:"completion_tokens_path,omitempty"`
	TotalTokensPath      string `json:"total_tokens_path,omitempty"`

	PromptPath string `json:"prompt_path,omitempty"`
	ImagePath  string `json:"image_path,omitempty"`
}

// Resolve returns the default Mapping for (flavor, stream) per the table
// in spec.md §4.3.
func Resolve(flavor Flavor, stream bool) Mapping {
	switch flavor {
	case FlavorOpenAIChat:
		m := Mapping{
			Flavor:               FlavorOpenAIChat,
			StreamPrefix:         "data:",
			StopSentinel:         "[DONE]",
			ContentPathStream:    "choices.0.delta.content",
			ContentPathNonStream: "choices.0.message.content",
			ReasoningPathStream:    "choices.0.delta.reasoning_content",
			ReasoningPathNonStream: "choices.0.message.reasoning_content",
			PromptTokensPath:     "usage.prompt_tokens",
			CompletionTokensPath: "usage.completion_tokens",
			TotalTokensPath:      "usage.total_tokens",
			PromptPath:           "messages.-1.content",
		}
		_ = stream
		return m
	case FlavorClaudeChat:
		return Mapping{
			Flavor:                 FlavorClaudeChat,
			StreamPrefix:           "data:",
			EndField:               "type",
			EndFieldValue:          "message_stop",
			ContentPathStream:      "delta.text",
			ContentPathNonStream:   "content.-1.text",
			ReasoningPathStream:    "delta.thinking",
			ReasoningPathNonStream: "content.0.thinking",
			PromptTokensPath:       "usage.input_tokens",
			CompletionTokensPath:   "usage.output_tokens",
			PromptPath:             "messages.-1.content",
		}
	case FlavorEmbeddings:
		return Mapping{
			Flavor:     FlavorEmbeddings,
			PromptPath: "input",
		}
	default: // FlavorCustom: caller must apply an Override; return an empty
		// Mapping so unset paths are plainly absent rather than
		// accidentally matching another flavor's defaults.
		return Mapping{Flavor: FlavorCustom}
	}
}

// ResolveWithOverride resolves the default mapping for (flavor, stream) and
// then applies any non-empty fields from override on top of it.
func ResolveWithOverride(flavor Flavor, stream bool, override *Override) Mapping {
	m := Resolve(flavor, stream)
	if override == nil {
		return m
	}
	applyOverride(&m, override)
	return m
}

// ParseOverride decodes a raw field_mapping JSON document (spec.md §3
// "field-mapping JSON (optional)") into an Override.
func ParseOverride(raw []byte) (*Override, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var o Override
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func applyOverride(m *Mapping, o *Override) {
	if o.StreamPrefix != "" {
		m.StreamPrefix = o.StreamPrefix
	}
	if o.StopSentinel != "" {
		m.StopSentinel = o.StopSentinel
	}
	if o.EndField != "" {
		m.EndField = o.EndField
	}
	if o.EndFieldValue != "" {
		m.EndFieldValue = o.EndFieldValue
	}
	if o.ContentPathStream != "" {
		m.ContentPathStream = o.ContentPathStream
	}
	if o.ContentPathNonStream != "" {
		m.ContentPathNonStream = o.ContentPathNonStream
	}
	if o.ReasoningPathStream != "" {
		m.ReasoningPathStream = o.ReasoningPathStream
	}
	if o.ReasoningPathNonStream != "" {
		m.ReasoningPathNonStream = o.ReasoningPathNonStream
	}
	if o.PromptTokensPath != "" {
		m.PromptTokensPath = o.PromptTokensPath
	}
	if o.CompletionTokensPath != "" {
		m.CompletionTokensPath = o.CompletionTokensPath
	}
	if o.TotalTokensPath != "" {
		m.TotalTokensPath = o.TotalTokensPath
	}
	if o.PromptPath != "" {
		m.PromptPath = o.PromptPath
	}
	if o.ImagePath != "" {
		m.ImagePath = o.ImagePath
	}
}
