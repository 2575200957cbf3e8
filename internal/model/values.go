package model

import "strings"

// Reference is the interpolation placeholder one node uses to consume
// another node's output.
func Reference(nodeID string) string {
	return "{{" + nodeID + ".data.instance}}"
}

// IsReference reports whether v is a whole-value {{...}} placeholder.
func IsReference(v string) bool {
	return strings.HasPrefix(v, "{{") && strings.HasSuffix(v, "}}")
}

// ReferencesNode reports whether v mentions nodeID inside a placeholder.
func ReferencesNode(v, nodeID string) bool {
	return strings.Contains(v, "{{"+nodeID+".")
}

// StringList converts a list-valued input to strings. It accepts the
// []any produced by JSON decoding as well as []string.
func StringList(v any) ([]string, bool) {
	switch l := v.(type) {
	case []string:
		return l, true
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// FilterList drops list items for which drop returns true. Non-string
// items are kept.
func FilterList(v any, drop func(string) bool) []any {
	var items []any
	switch l := v.(type) {
	case []string:
		items = make([]any, len(l))
		for i, s := range l {
			items[i] = s
		}
	case []any:
		items = l
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && drop(s) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// AppendUnique adds s to a list-valued input unless already present.
func AppendUnique(v any, s string) []any {
	out := FilterList(v, func(string) bool { return false })
	for _, item := range out {
		if item == s {
			return out
		}
	}
	return append(out, s)
}
