// Package jsonpath implements a dotted-path walker over a dynamically
// typed JSON tree, the Go-native analogue of the source system's
// attribute-based get_field_value/set_field_value helpers (spec.md §9
// design note). A path component that parses as an integer indexes into a
// JSON array; negative indices count from the end (-1 = last element).
package jsonpath

import (
	"fmt"
	"strconv"
	"strings"
)

// Get walks root along the dotted path and returns the value found there.
// It returns ok=false if any path segment does not resolve (missing map
// key, out-of-range/non-array index, or a scalar encountered mid-path).
func Get(root any, path string) (any, bool) {
	if path == "" {
		return root, true
	}

	cur := root
	for _, seg := range strings.Split(path, ".") {
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// GetString is a convenience wrapper that type-asserts the result to a
// string, returning "" and false for any non-string or unresolved value.
func GetString(root any, path string) (string, bool) {
	v, ok := Get(root, path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetFloat64 type-asserts the result to a float64 (the numeric type
// encoding/json decodes into interface{}), accepting json.Number-compatible
// values already decoded as float64.
func GetFloat64(root any, path string) (float64, bool) {
	v, ok := Get(root, path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Set walks root along path, creating intermediate maps as needed, and
// assigns value at the final segment. root must be a map[string]any (or
// nil, in which case a new map is created and returned). Set does not
// create array elements; an integer path segment into a missing array
// is an error.
func Set(root any, path string, value any) (any, error) {
	if path == "" {
		return value, nil
	}
	if root == nil {
		root = map[string]any{}
	}

	segs := strings.Split(path, ".")
	return setRec(root, segs, value)
}

func setRec(cur any, segs []string, value any) (any, error) {
	seg := segs[0]
	rest := segs[1:]

	if idx, isIdx := parseIndex(seg); isIdx {
		arr, ok := cur.([]any)
		if !ok {
			return nil, fmt.Errorf("jsonpath: segment %q expects an array, got %T", seg, cur)
		}
		realIdx, ok := resolveIndex(idx, len(arr))
		if !ok {
			return nil, fmt.Errorf("jsonpath: index %d out of range (len=%d)", idx, len(arr))
		}
		if len(rest) == 0 {
			arr[realIdx] = value
			return arr, nil
		}
		updated, err := setRec(arr[realIdx], rest, value)
		if err != nil {
			return nil, err
		}
		arr[realIdx] = updated
		return arr, nil
	}

	m, ok := cur.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("jsonpath: segment %q expects an object, got %T", seg, cur)
	}
	if len(rest) == 0 {
		m[seg] = value
		return m, nil
	}
	child, exists := m[seg]
	if !exists || child == nil {
		child = map[string]any{}
	}
	updated, err := setRec(child, rest, value)
	if err != nil {
		return nil, err
	}
	m[seg] = updated
	return m, nil
}

func step(cur any, seg string) (any, bool) {
	if idx, isIdx := parseIndex(seg); isIdx {
		arr, ok := cur.([]any)
		if !ok {
			return nil, false
		}
		realIdx, ok := resolveIndex(idx, len(arr))
		if !ok {
			return nil, false
		}
		return arr[realIdx], true
	}

	m, ok := cur.(map[string]any)
	if !ok {
		return nil, false
	}
	v, exists := m[seg]
	return v, exists
}

func parseIndex(seg string) (int, bool) {
	n, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	return n, true
}

func resolveIndex(idx, length int) (int, bool) {
	if idx < 0 {
		idx += length
	}
	if idx < 0 || idx >= length {
		return 0, false
	}
	return idx, true
}
