package ai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// LLM output is JSON-shaped rather than JSON: code fences, trailing
// commas, and prose around the payload are all common. ParseJSON works
// through cleanup strategies instead of trusting the first Unmarshal.
var (
	codeFenceRegex     = regexp.MustCompile("(?s)`{3}(?:json)?\\s*\\n?([\\s\\S]*?)\\n?`{3}")
	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)
	objectRegex        = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
)

// ParseJSON decodes LLM output into T, tolerating markdown fences,
// trailing commas, and surrounding prose. Malformed output returns an
// error; it never panics.
func ParseJSON[T any](text string) (T, error) {
	var zero T

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return zero, fmt.Errorf("empty oracle output")
	}

	// Strategy 1: direct parse
	if v, err := tryParse[T](trimmed); err == nil {
		return v, nil
	} else {
		slog.Debug("direct JSON parse failed, trying cleanup", "error", err)
	}

	// Strategy 2: strip code fences
	unfenced := strings.TrimSpace(codeFenceRegex.ReplaceAllString(trimmed, "$1"))
	if unfenced != trimmed {
		if v, err := tryParse[T](unfenced); err == nil {
			return v, nil
		}
	}

	// Strategy 3: drop trailing commas
	cleaned := trailingCommaRegex.ReplaceAllString(unfenced, "$1")
	if v, err := tryParse[T](cleaned); err == nil {
		return v, nil
	}

	// Strategy 4: extract the outermost object from mixed content
	if match := objectRegex.FindString(cleaned); match != "" {
		if v, err := tryParse[T](match); err == nil {
			return v, nil
		}
	}

	return zero, fmt.Errorf("unparseable oracle output: %s", snippet(text, 200))
}

func tryParse[T any](text string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(text), &v)
	return v, err
}

func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
