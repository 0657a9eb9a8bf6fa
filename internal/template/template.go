// Package template renders {placeholder} style notification templates.
package template

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	// placeholderPattern matches {name} with optional whitespace. JSON object
	// braces never match because keys are quoted.
	placeholderPattern = regexp.MustCompile(`\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}`)
)

// Render replaces {name} placeholders with values from vars. Unknown
// placeholders are left untouched.
func Render(text string, vars map[string]string) string {
	return RenderFunc(text, vars, nil)
}

// RenderFunc is Render with every substituted value passed through escape.
func RenderFunc(text string, vars map[string]string, escape func(string) string) string {
	if len(vars) == 0 || !strings.Contains(text, "{") {
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		if len(sub) != 2 {
			return match
		}
		v, ok := vars[sub[1]]
		if !ok {
			return match
		}
		if escape != nil {
			return escape(v)
		}
		return v
	})
}

// JSONEscape escapes s for embedding inside a JSON string literal.
func JSONEscape(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return s
	}
	return string(b[1 : len(b)-1])
}

// RenderValue renders every string found in v, descending into maps and
// slices as produced by encoding/json. Other values are returned as is.
func RenderValue(v any, vars map[string]string) any {
	switch val := v.(type) {
	case string:
		return Render(val, vars)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = RenderValue(item, vars)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = RenderValue(item, vars)
		}
		return out
	default:
		return v
	}
}

// ExtractVariableNames returns all unique placeholder names found in text.
func ExtractVariableNames(text string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool)
	names := make([]string, 0, len(matches))

	for _, m := range matches {
		if len(m) == 2 && !seen[m[1]] {
			names = append(names, m[1])
			seen[m[1]] = true
		}
	}
	return names
}
