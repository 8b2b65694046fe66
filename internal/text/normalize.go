package text

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	thinkBlocks   = regexp.MustCompile(`(?s)<think>.*?</think>`)
	leadPreamble  = regexp.MustCompile(`^[^\n]{0,120}:\s*\n`)
	fencedWhole   = regexp.MustCompile("(?s)^```[a-zA-Z]*\n(.*?)\n```$")
	envelopeField = regexp.MustCompile(`(?s)"content"\s*:\s*"(.*?)"\s*[,}]`)
)

// StripReasoning removes decoration the model sometimes wraps around prose:
// <think> blocks, a single leading "Here is the chapter:" style preamble
// line, and a code fence enclosing the whole response.
func StripReasoning(s string) string {
	cleaned := strings.TrimSpace(s)
	cleaned = thinkBlocks.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = leadPreamble.ReplaceAllString(cleaned, "")
	if m := fencedWhole.FindStringSubmatch(cleaned); m != nil {
		cleaned = m[1]
	}
	return strings.TrimSpace(cleaned)
}

// UnwrapJSONEnvelope recovers prose the model accidentally wrapped as
// {"content": "..."}. Structured parse first, regex extraction second, and
// the input unchanged when neither applies.
func UnwrapJSONEnvelope(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed
	}

	// Tolerate trailing junk after the closing brace.
	if last := strings.LastIndex(trimmed, "}"); last != -1 {
		var envelope struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(trimmed[:last+1]), &envelope); err == nil && envelope.Content != "" {
			return envelope.Content
		}
	}

	if m := envelopeField.FindStringSubmatch(trimmed); m != nil {
		inner := m[1]
		inner = strings.ReplaceAll(inner, `\n`, "\n")
		inner = strings.ReplaceAll(inner, `\"`, `"`)
		return inner
	}

	return trimmed
}

// SampleMiddle keeps the head and tail of long content, eliding the middle,
// so prompts built from very long prose stay inside their char budget.
func SampleMiddle(content string, maxChars int) string {
	runes := []rune(content)
	if maxChars <= 0 || len(runes) <= maxChars {
		return content
	}
	half := maxChars / 2
	return string(runes[:half]) + "\n[... middle omitted ...]\n" + string(runes[len(runes)-half:])
}

// CollapseDuplicateLines reduces runs of identical consecutive non-blank
// lines to a single occurrence. Blank lines break a run. Idempotent.
func CollapseDuplicateLines(s string) string {
	lines := strings.Split(s, "\n")
	kept := make([]string, 0, len(lines))
	prev := ""

	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			kept = append(kept, line)
			prev = ""
			continue
		}
		if stripped == prev {
			continue
		}
		kept = append(kept, line)
		prev = stripped
	}

	return strings.Join(kept, "\n")
}
