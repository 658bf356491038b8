package store

import (
	"encoding/json"
	"fmt"
)

func decodeJSONStringMap(raw string) (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeStringMap serializes a header/cookie map the way job rows store
// it (spec.md §3 "serialized as JSON"). A nil map encodes as "{}" so the
// column is never empty/NULL-ambiguous.
func EncodeStringMap(m map[string]string) string {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

const errorMessageTruncatedSuffixFmt = "... (truncated, original length: %d)"

// TruncateErrorMessage enforces the 65 KB error_message limit from
// spec.md §4.1, appending the exact suffix the spec names.
func TruncateErrorMessage(msg string, maxBytes int) string {
	if len(msg) <= maxBytes {
		return msg
	}
	suffix := fmt.Sprintf(errorMessageTruncatedSuffixFmt, len(msg))
	keep := maxBytes - len(suffix)
	if keep < 0 {
		keep = 0
	}
	return msg[:keep] + suffix
}
