package generator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var jsonBlockRegex = regexp.MustCompile("```(?:json)?\\s*\\n([\\s\\S]*?)\\n```")

// extractJSON pulls the JSON object out of a model response: a fenced
// block if present, otherwise the first complete top-level object.
func extractJSON(content string) (string, error) {
	if m := jsonBlockRegex.FindStringSubmatch(content); len(m) > 1 {
		if text := strings.TrimSpace(m[1]); text != "" {
			return text, nil
		}
	}
	if text, ok := extractFirstJSONObject(content); ok {
		return text, nil
	}
	return "", fmt.Errorf("%w: no JSON object found", ErrMalformedOutput)
}

func extractFirstJSONObject(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	start := strings.Index(trimmed, "{")
	if start == -1 {
		return "", false
	}

	decoder := json.NewDecoder(strings.NewReader(trimmed[start:]))
	decoder.UseNumber()

	var raw json.RawMessage
	if err := decoder.Decode(&raw); err != nil {
		return "", false
	}
	return strings.TrimSpace(string(raw)), true
}
