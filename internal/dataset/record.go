// Package dataset implements the Dataset Loader component (spec.md §4.2,
// C2): it parses JSONL / JSON-array / ShareGPT / OpenAI-messages dataset
// content into a lazy, restartable, shared round-robin queue of prompt
// records.
package dataset

// Record is one dataset entry: a prompt plus an optional image reference
// (spec.md §3 "Prompt record").
type Record struct {
	ID          string
	Prompt      string
	PromptIsRaw bool // true when Prompt is a JSON-serialized fallback, not a plain string
	ImageURL    string
	ImageBase64 string
}

// HasImage reports whether the record carries an image reference in
// either form.
func (r Record) HasImage() bool {
	return r.ImageURL != "" || r.ImageBase64 != ""
}
