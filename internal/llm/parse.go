package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls the JSON document out of a model response. Models
// habitually wrap JSON in markdown fences or surround it with prose, so
// this strips fences first and then falls back to the outermost
// brace/bracket span. The error is a MalformedResponseError when nothing
// decodable is found.
func ExtractJSON(response string, v any) error {
	candidate := strings.TrimSpace(response)

	if fenced := stripFences(candidate); fenced != "" {
		candidate = fenced
	}
	if err := json.Unmarshal([]byte(candidate), v); err == nil {
		return nil
	}

	// Outermost object or array span.
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexByte(candidate, pair[0])
		end := strings.LastIndexByte(candidate, pair[1])
		if start >= 0 && end > start {
			if err := json.Unmarshal([]byte(candidate[start:end+1]), v); err == nil {
				return nil
			}
		}
	}
	return &MalformedResponseError{Response: response}
}

// MalformedResponseError marks a model response that could not be
// interpreted at all. Stages raise this; best-effort-imperfect output is
// returned, uninterpretable output is not.
type MalformedResponseError struct {
	Response string
}

func (e *MalformedResponseError) Error() string {
	snippet := strings.TrimSpace(e.Response)
	if len(snippet) > 160 {
		snippet = snippet[:160] + "..."
	}
	return fmt.Sprintf("malformed model response: %q", snippet)
}

// StripCode removes a markdown code fence around a code fragment, if
// present, and trims trailing whitespace.
func StripCode(response string) string {
	if fenced := stripFences(strings.TrimSpace(response)); fenced != "" {
		return strings.TrimRight(fenced, "\n\t ")
	}
	return strings.TrimSpace(response)
}

// stripFences returns the content of the first fenced block, or "" when
// the text has no fence.
func stripFences(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return ""
	}
	rest := text[start+3:]
	// Drop an optional language tag on the fence line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		first := strings.TrimSpace(rest[:nl])
		if len(first) <= 12 && !strings.ContainsAny(first, "{}[]()") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}
