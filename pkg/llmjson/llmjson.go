// Package llmjson decodes JSON out of messy model responses. Responses
// routinely arrive wrapped in markdown fences, prefixed with commentary, or
// slightly malformed; callers get a tagged result instead of a parse error so
// every consumer decides explicitly what a malformed response means for it.
package llmjson

import (
	"encoding/json"
	"regexp"
	"strings"
)

var trailingCommas = regexp.MustCompile(`,(\s*[}\]])`)

// Result is the outcome of decoding a model response. Exactly one arm holds:
// Ok with a typed value, or not-Ok with the raw response preserved for
// logging and fallbacks.
type Result[T any] struct {
	Ok    bool
	Value T
	Raw   string
}

// Clean strips markdown code fences and extracts the outermost JSON object
// from surrounding commentary.
func Clean(response string) string {
	cleaned := strings.ReplaceAll(response, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		cleaned = cleaned[start : end+1]
	}

	return strings.TrimSpace(cleaned)
}

// Repair applies best-effort fixes for the malformations models most often
// produce: single-quoted strings and trailing commas.
func Repair(s string) string {
	repaired := strings.ReplaceAll(s, "'", `"`)
	repaired = trailingCommas.ReplaceAllString(repaired, "$1")
	return repaired
}

// Decode cleans the response and unmarshals it into T, retrying once after
// Repair. A failed decode is not an error: the caller receives the raw text
// and chooses its own fallback.
func Decode[T any](response string) Result[T] {
	cleaned := Clean(response)

	var value T
	if err := json.Unmarshal([]byte(cleaned), &value); err == nil {
		return Result[T]{Ok: true, Value: value, Raw: response}
	}

	var repaired T
	if err := json.Unmarshal([]byte(Repair(cleaned)), &repaired); err == nil {
		return Result[T]{Ok: true, Value: repaired, Raw: response}
	}

	return Result[T]{Raw: response}
}
